// Package attendance resolves the employee identity and submits attendance
// actions on top of the Mawared client.
package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/mawared"
	"mawared-attendance-backend/internal/model"
)

// API is the subset of the Mawared client the service needs.
type API interface {
	UserInfo(ctx context.Context, token string) (*mawared.UserInfo, error)
	Geolocations(ctx context.Context, token, employeeNumber string) ([]mawared.Location, error)
	SystemTime(ctx context.Context, token, employeeID string) (string, error)
	SubmitAction(ctx context.Context, token string, req mawared.ActionRequest) (*mawared.ActionResult, error)
	Transactions(ctx context.Context, token, employeeID, employeeNumber string, day time.Time) ([]mawared.Transaction, error)
}

// EmployeeStore persists the bootstrapped identity.
type EmployeeStore interface {
	GetEmployeeInfo(ctx context.Context) (*model.EmployeeInfo, error)
	SaveEmployeeInfo(ctx context.Context, info model.EmployeeInfo) error
}

// Service performs employee bootstrap and attendance submission.
type Service struct {
	mu     sync.Mutex
	api    API
	store  EmployeeStore
	cfg    config.APIConfig
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a new attendance service. now may be nil.
func NewService(api API, store EmployeeStore, cfg config.APIConfig, loc *time.Location, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = 3
	}
	if cfg.InfoMaxAge <= 0 {
		cfg.InfoMaxAge = 24 * time.Hour
	}
	return &Service{api: api, store: store, cfg: cfg, loc: loc, now: now, logger: logger}
}

// InitEmployee fetches the employee number and first location once and
// stores them.
func (s *Service) InitEmployee(ctx context.Context, token string) (*model.EmployeeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initEmployee(ctx, token)
}

func (s *Service) initEmployee(ctx context.Context, token string) (*model.EmployeeInfo, error) {
	user, err := s.api.UserInfo(ctx, token)
	if err != nil {
		return nil, errs.Wrap(err, "userinfo")
	}
	locs, err := s.api.Geolocations(ctx, token, user.EmployeeNumber)
	if err != nil {
		return nil, errs.Wrap(err, "geolocations")
	}
	first := locs[0]

	info := model.EmployeeInfo{
		EmployeeID:       user.EmployeeNumber,
		EmployeeNumber:   user.EmployeeNumber,
		LocationID:       first.ID,
		RawUserInfo:      string(user.Raw),
		RawFirstLocation: string(first.Raw),
		UpdatedAt:        s.now().UTC(),
	}
	if err := s.store.SaveEmployeeInfo(ctx, info); err != nil {
		return nil, err
	}
	s.logger.Info("Employee info initialised",
		zap.String("employeeID", info.EmployeeID),
		zap.String("locationID", info.LocationID))
	return &info, nil
}

// EnsureEmployee returns the stored identity while it is fresh, otherwise
// bootstraps it again with a bounded number of attempts. Authentication
// rejections stop the retries at once.
func (s *Service) EnsureEmployee(ctx context.Context, token string) (*model.EmployeeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.store.GetEmployeeInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil && info.EmployeeID != "" && info.LocationID != "" && s.now().Sub(info.UpdatedAt) <= s.cfg.InfoMaxAge {
		return info, nil
	}

	var fresh *model.EmployeeInfo
	attempt := 0
	operation := func() error {
		attempt++
		got, err := s.initEmployee(ctx, token)
		if err != nil {
			s.logger.Warn("Employee bootstrap attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			if errs.Is(err, errs.ErrAuthenticationRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		fresh = got
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.InitBackoff), uint64(s.cfg.InitAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, errs.Mark(errs.Wrapf(err, "employee bootstrap failed after %d attempts", attempt), errs.ErrEmployeeUnavailable)
	}
	return fresh, nil
}

// Submit records kind for the employee using the server clock when it is
// reachable and the local clock otherwise.
func (s *Service) Submit(ctx context.Context, token string, kind model.ActionKind) (*mawared.ActionResult, error) {
	info, err := s.EnsureEmployee(ctx, token)
	if err != nil {
		return nil, err
	}

	actionTime, err := s.api.SystemTime(ctx, token, info.EmployeeID)
	if err != nil {
		if errs.Is(err, errs.ErrAuthenticationRejected) {
			return nil, err
		}
		actionTime = s.now().In(s.loc).Format("2006-01-02T15:04:05")
		s.logger.Warn("Falling back to local time for action", zap.String("actionTime", actionTime), zap.Error(err))
	}

	return s.api.SubmitAction(ctx, token, mawared.ActionRequest{
		Kind:           kind,
		EmployeeID:     info.EmployeeID,
		EmployeeNumber: info.EmployeeNumber,
		LocationID:     info.LocationID,
		ActionTime:     actionTime,
	})
}

// FetchEmployeeInfo returns the stored identity without contacting Mawared.
// It is nil when no bootstrap has succeeded yet.
func (s *Service) FetchEmployeeInfo(ctx context.Context) (*model.EmployeeInfo, error) {
	return s.store.GetEmployeeInfo(ctx)
}

// History lists today's attendance transactions.
func (s *Service) History(ctx context.Context, token string) ([]mawared.Transaction, error) {
	info, err := s.EnsureEmployee(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.api.Transactions(ctx, token, info.EmployeeID, info.EmployeeNumber, s.now().In(s.loc))
}
