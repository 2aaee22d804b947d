package api

import (
	"context"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/credential"
	"mawared-attendance-backend/internal/gate"
	"mawared-attendance-backend/internal/mawared"
	"mawared-attendance-backend/internal/model"
	"mawared-attendance-backend/internal/store"
)

// Automation is the gate surface exposed over HTTP.
type Automation interface {
	RunCycle(ctx context.Context) (*gate.CycleSummary, error)
	EnsureWindowsForToday(ctx context.Context) (*model.DailySchedule, error)
	RunManual(ctx context.Context, kind model.ActionKind) (*gate.ManualResult, error)
	Reset(ctx context.Context) (*model.DailySchedule, error)
	SetEnabled(ctx context.Context, enabled bool) error
	Enabled(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) (*gate.Snapshot, error)
}

// Credentials reads and replaces the bearer token.
type Credentials interface {
	Resolve() (credential.Credential, error)
	Update(value string) (credential.Credential, error)
}

// Employees bootstraps the employee identity and lists transactions.
type Employees interface {
	InitEmployee(ctx context.Context, token string) (*model.EmployeeInfo, error)
	FetchEmployeeInfo(ctx context.Context) (*model.EmployeeInfo, error)
	History(ctx context.Context, token string) ([]mawared.Transaction, error)
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Store       store.Store
	Automation  Automation
	Credentials Credentials
	Employees   Employees
	Notifier    gate.Notifier
	Config      *config.Config
	WebPush     *webpush.Options
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	auto      Automation
	creds     Credentials
	employees Employees
	notifier  gate.Notifier
	cfg       *config.Config
	webpush   *webpush.Options
	gatherer  prometheus.Gatherer
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		store:     d.Store,
		auto:      d.Automation,
		creds:     d.Credentials,
		employees: d.Employees,
		notifier:  d.Notifier,
		cfg:       d.Config,
		webpush:   d.WebPush,
		gatherer:  d.Gatherer,
		logger:    d.Logger,
	}
}

func (h *Handler) notify(text string) {
	if h.notifier != nil {
		h.notifier.Notify(text)
	}
}

func respond(c *gin.Context, ok bool, message string) {
	c.JSON(http.StatusOK, gin.H{"ok": ok, "message": message})
}

// fail logs err and answers with a 500 carrying its text.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "message": err.Error()})
}
