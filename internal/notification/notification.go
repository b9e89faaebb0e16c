package notification

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/metrics"
	"github.com/smartdevs17/staking-stats/internal/models"
)

// Notification event types
const (
	EventRunChanged = "run.changed"
	EventRunFailed  = "run.failed"
)

// Channels
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
)

// Notifier announces finished runs
type Notifier interface {
	NotifyRun(ctx context.Context, run *models.RunRecord) error
	GetStats() NotificationStats
	GetHealth() *NotificationHealth
}

// NotificationManager fans a run event out to the log and webhook channels
type NotificationManager struct {
	config  *config.NotificationConfig
	logger  *NotificationLogger
	metrics *metrics.PrometheusMetrics

	webhookSender *WebhookSender

	mu    sync.RWMutex
	stats NotificationStats
}

// NotificationStats provides notification statistics
type NotificationStats struct {
	TotalNotificationsSent   uint64     `json:"total_notifications_sent"`
	TotalWebhooksSent        uint64     `json:"total_webhooks_sent"`
	TotalNotificationsFailed uint64     `json:"total_notifications_failed"`
	LastError                *string    `json:"last_error,omitempty"`
	LastErrorTime            *time.Time `json:"last_error_time,omitempty"`
}

// NotificationHealth reports whether the last delivery succeeded
type NotificationHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// NewNotificationManager creates a new notification manager. m may be nil.
func NewNotificationManager(cfg *config.NotificationConfig, m *metrics.PrometheusMetrics) *NotificationManager {
	logger := NewNotificationLogger()
	return &NotificationManager{
		config:        cfg,
		logger:        logger,
		metrics:       m,
		webhookSender: NewWebhookSender(cfg, logger),
	}
}

// EventFor maps a finished run to its event type; false means nothing to announce.
func EventFor(run *models.RunRecord) (string, bool) {
	switch {
	case run == nil:
		return "", false
	case !run.Succeeded():
		return EventRunFailed, true
	case run.Changed:
		return EventRunChanged, true
	default:
		return "", false
	}
}

// NotifyRun delivers the run to every channel when its event is selected by notify_on
func (nm *NotificationManager) NotifyRun(ctx context.Context, run *models.RunRecord) error {
	if !nm.config.Enabled {
		return nil
	}
	event, ok := EventFor(run)
	if !ok || !nm.wants(event) {
		return nil
	}

	nm.logRun(event, run)
	nm.record(ChannelLog, event, nil)

	payload := &WebhookPayload{
		Source:    payloadSource,
		Type:      event,
		Timestamp: time.Now().UTC(),
		Run:       run,
		Version:   payloadVersion,
	}

	var errs []error
	for _, target := range nm.config.Webhooks {
		err := nm.webhookSender.SendWebhook(ctx, target, payload)
		nm.record(ChannelWebhook, event, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (nm *NotificationManager) wants(event string) bool {
	switch event {
	case EventRunChanged:
		return slices.Contains(nm.config.NotifyOn, "changed")
	case EventRunFailed:
		return slices.Contains(nm.config.NotifyOn, "failed")
	}
	return false
}

func (nm *NotificationManager) logRun(event string, run *models.RunRecord) {
	context := map[string]interface{}{
		"event":   event,
		"run_id":  run.ID,
		"trigger": run.Trigger,
	}
	if event == EventRunFailed {
		context["error"] = run.Error
		nm.logger.Warn("Staking stats refresh failed", context)
		return
	}
	context["committed"] = run.Committed
	context["commit_hash"] = run.CommitHash
	nm.logger.Info("Staking stats changed", context)
}

func (nm *NotificationManager) record(channel, event string, err error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if err != nil {
		nm.stats.TotalNotificationsFailed++
		msg := err.Error()
		now := time.Now()
		nm.stats.LastError = &msg
		nm.stats.LastErrorTime = &now
		if nm.metrics != nil {
			nm.metrics.RecordNotificationFailure(channel, event)
		}
		return
	}

	nm.stats.TotalNotificationsSent++
	if channel == ChannelWebhook {
		nm.stats.TotalWebhooksSent++
	}
	// A later success clears the degraded state.
	nm.stats.LastError = nil
	if nm.metrics != nil {
		nm.metrics.RecordNotificationSent(channel, event)
	}
}

// GetStats returns a copy of the notification statistics
func (nm *NotificationManager) GetStats() NotificationStats {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	return nm.stats
}

// GetHealth reports the last delivery error, if any
func (nm *NotificationManager) GetHealth() *NotificationHealth {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	health := &NotificationHealth{Healthy: nm.stats.LastError == nil}
	if nm.stats.LastError != nil {
		health.Error = *nm.stats.LastError
	}
	return health
}
