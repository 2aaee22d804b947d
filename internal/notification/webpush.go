package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mawared-attendance-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// pushClient is the real implementation of NotificationSender using the webpush library.
type pushClient struct{}

func (pushClient) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WebPushSender delivers notices to every stored browser subscription.
type WebPushSender struct {
	db      *gorm.DB
	options *webpush.Options
	push    NotificationSender
	logger  *zap.Logger
}

// NewWebPushSender creates a sender over the subscriptions table.
func NewWebPushSender(db *gorm.DB, options *webpush.Options, logger *zap.Logger) *WebPushSender {
	return &WebPushSender{db: db, options: options, push: pushClient{}, logger: logger}
}

func (s *WebPushSender) Name() string { return "webpush" }

// Send pushes text to all subscriptions. Expired subscriptions are deleted.
func (s *WebPushSender) Send(ctx context.Context, text string) error {
	var subscriptions []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		return fmt.Errorf("failed to fetch subscriptions: %w", err)
	}

	var failed int
	for _, sub := range subscriptions {
		if !s.sendOne(ctx, sub, []byte(text)) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d push deliveries failed", failed, len(subscriptions))
	}
	return nil
}

// sendOne sends a single web push notification.
func (s *WebPushSender) sendOne(ctx context.Context, sub model.PushSubscription, payload []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := s.push.Send(payload, wpSub, s.options)
	if err != nil {
		s.logger.Warn("Error sending push notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		s.logger.Info("Push subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := s.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			s.logger.Warn("Failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return true
	}
	return resp.StatusCode < 300
}
