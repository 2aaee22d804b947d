// Package mawared is the HTTP client for the Mawared attendance API.
package mawared

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mawared-attendance-backend/config"
	"mawared-attendance-backend/internal/errs"
	"mawared-attendance-backend/internal/logger"
	"mawared-attendance-backend/internal/model"
)

const maxBodyBytes = 1 << 20

// errorKeywords in a 2xx "state" field mean the server refused the action.
var errorKeywords = []string{"لا يمكن", "خطأ", "Error", "ORA-", "غير مسموح", "فشل", "غير صالح", "لايوجد", "غير مصرح"}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received non-2xx status code: %d", e.StatusCode)
}

// UserInfo is the subset of the identity server's userinfo reply we use.
type UserInfo struct {
	EmployeeNumber string
	Raw            json.RawMessage
}

// Location is one allowed attendance geolocation.
type Location struct {
	ID  string
	Raw json.RawMessage
}

// ActionRequest identifies who submits what.
type ActionRequest struct {
	Kind           model.ActionKind
	EmployeeID     string
	EmployeeNumber string
	LocationID     string
	ActionTime     string
}

// ActionResult is the server's message for an accepted action.
type ActionResult struct {
	StatusCode int
	Message    string
}

// Transaction is one attendance record of the day.
type Transaction struct {
	Time string `json:"transactionTime"`
	Type string `json:"transactionType"`
}

// Client talks to the Mawared identity and attendance endpoints.
type Client struct {
	cfg    config.APIConfig
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a client honouring the configured proxy and timeout.
func NewClient(cfg config.APIConfig, log *zap.Logger) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn("Invalid proxy URL, client will not use a proxy", zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > 20*time.Second {
		timeout = 20 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Transport: transport, Timeout: timeout},
		logger: log,
	}
}

// UserInfo reads the employee number from the identity server.
func (c *Client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	body, _, err := c.do(ctx, http.MethodGet, c.cfg.AuthBaseURL+"/connect/userinfo", token)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, transient(fmt.Errorf("failed to unmarshal userinfo: %w", err))
	}
	number := firstString(fields, "EmployeeNumber", "employeeNumber", "employeeID")
	if number == "" {
		return nil, transient(errs.New("userinfo has no employee number"))
	}
	return &UserInfo{EmployeeNumber: number, Raw: body}, nil
}

// Geolocations lists the locations the employee may record attendance from.
func (c *Client) Geolocations(ctx context.Context, token, employeeNumber string) ([]Location, error) {
	q := url.Values{}
	q.Set("targetEmployeeNumber", employeeNumber)
	q.Set("employeeNumber", employeeNumber)
	endpoint := c.employeeURL(employeeNumber, "Geolocations") + "?" + q.Encode()

	body, _, err := c.do(ctx, http.MethodGet, endpoint, token)
	if err != nil {
		return nil, err
	}
	items, err := decodeLocationList(body)
	if err != nil {
		return nil, transient(err)
	}

	locs := make([]Location, 0, len(items))
	for _, raw := range items {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		id := firstString(fields, "locationId", "id", "LocationId", "location_id", "locationID")
		if id == "" {
			continue
		}
		locs = append(locs, Location{ID: id, Raw: raw})
	}
	if len(locs) == 0 {
		return nil, transient(errs.New("no geolocation with a location id"))
	}
	return locs, nil
}

// decodeLocationList accepts a bare array or an object wrapping one.
func decodeLocationList(body []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geolocations: %w", err)
	}
	for _, key := range []string{"error", "Error", "message", "Message", "error_description"} {
		if msg, ok := obj[key]; ok {
			return nil, fmt.Errorf("geolocations returned %s: %s", key, logger.Truncate(string(msg), 200))
		}
	}
	for _, key := range []string{"items", "data", "results", "list", "geolocations", "locations"} {
		if raw, ok := obj[key]; ok {
			if err := json.Unmarshal(raw, &list); err == nil {
				return list, nil
			}
		}
	}
	return nil, errs.New("unexpected geolocations payload")
}

// SystemTime asks the server for its clock in "2006-01-02T15:04:05" form.
func (c *Client) SystemTime(ctx context.Context, token, employeeID string) (string, error) {
	body, _, err := c.do(ctx, http.MethodPost, c.employeeURL(employeeID, "Geolocations/Validate"), token)
	if err != nil {
		return "", err
	}
	var reply struct {
		SystemTime string `json:"systemTime"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", transient(fmt.Errorf("failed to unmarshal system time: %w", err))
	}
	if reply.SystemTime == "" {
		return "", transient(errs.New("reply has no systemTime"))
	}
	if strings.Contains(reply.SystemTime, "T") {
		return reply.SystemTime, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", reply.SystemTime)
	if err != nil {
		return reply.SystemTime, nil
	}
	return t.Format("2006-01-02T15:04:05"), nil
}

// SubmitAction records a check-in or check-out.
func (c *Client) SubmitAction(ctx context.Context, token string, req ActionRequest) (*ActionResult, error) {
	if !req.Kind.Valid() {
		return nil, errs.Newf("unknown action kind %q", req.Kind)
	}
	q := url.Values{}
	q.Set("actionTime", req.ActionTime)
	q.Set("targetEmployeeNumber", req.EmployeeNumber)
	q.Set("locationId", req.LocationID)
	endpoint := c.employeeURL(req.EmployeeID, "Geolocations/"+string(req.Kind)) + "?" + q.Encode()

	c.logger.Info("Submitting attendance action",
		zap.String("kind", string(req.Kind)),
		zap.String("actionTime", req.ActionTime))

	body, status, err := c.do(ctx, http.MethodPost, endpoint, token)
	if err != nil {
		return nil, err
	}

	var reply map[string]any
	_ = json.Unmarshal(body, &reply)
	message := "تم التسجيل بنجاح"
	if state, ok := reply["state"].(string); ok && state != "" {
		message = state
		if containsErrorKeyword(state) {
			return nil, transient(errs.Newf("action refused: %s", state))
		}
	}
	return &ActionResult{StatusCode: status, Message: message}, nil
}

// Transactions lists the attendance records of day.
func (c *Client) Transactions(ctx context.Context, token, employeeID, employeeNumber string, day time.Time) ([]Transaction, error) {
	q := url.Values{}
	q.Set("date", day.Format("2006/01/02"))
	q.Set("employeeNumber", employeeNumber)
	endpoint := c.employeeURL(employeeID, "Transactions") + "?" + q.Encode()

	body, _, err := c.do(ctx, http.MethodGet, endpoint, token)
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, transient(fmt.Errorf("failed to unmarshal transactions: %w", err))
	}
	for i := range txs {
		txs[i].Type = simplifyType(txs[i].Type)
	}
	return txs, nil
}

func simplifyType(t string) string {
	switch {
	case strings.Contains(t, "دخول"), strings.Contains(t, "In"), strings.Contains(t, "Checkin"):
		return "دخول"
	case strings.Contains(t, "خروج"), strings.Contains(t, "Out"), strings.Contains(t, "Checkout"):
		return "خروج"
	}
	return t
}

func (c *Client) employeeURL(employeeID, suffix string) string {
	return fmt.Sprintf("%s/Employee/%s/AttendanceManagement/%s", c.cfg.BaseURL, url.PathEscape(employeeID), suffix)
}

// do performs one request and classifies the failure: 401 is an
// authentication rejection, everything else is transient.
func (c *Client) do(ctx context.Context, method, endpoint, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, transient(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Upstream returned an error status",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", logger.Truncate(string(body), 300)))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: logger.Truncate(string(body), 500)}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, resp.StatusCode, errs.Mark(statusErr, errs.ErrAuthenticationRejected)
		}
		return nil, resp.StatusCode, transient(statusErr)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Apicode", c.cfg.APICode)
	req.Header.Set("Appversion", c.cfg.AppVersion)
	req.Header.Set("Platform", c.cfg.Platform)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept-Language", "ar-SA")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}
}

func transient(err error) error {
	return errs.Mark(err, errs.ErrTransientRequest)
}

func containsErrorKeyword(s string) bool {
	for _, kw := range errorKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
