package notification

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// NotificationLogger handles logging for notification operations
type NotificationLogger struct {
	entry *logrus.Entry
}

// NewNotificationLogger creates a logger tagged with the notification component
func NewNotificationLogger() *NotificationLogger {
	return &NotificationLogger{entry: utils.ComponentLogger("notification")}
}

// WithField returns a logger carrying an extra field
func (nl *NotificationLogger) WithField(key string, value interface{}) *NotificationLogger {
	return &NotificationLogger{entry: nl.entry.WithField(key, value)}
}

func (nl *NotificationLogger) Debug(message string, context ...map[string]interface{}) {
	nl.with(context).Debug(message)
}

func (nl *NotificationLogger) Info(message string, context ...map[string]interface{}) {
	nl.with(context).Info(message)
}

func (nl *NotificationLogger) Warn(message string, context ...map[string]interface{}) {
	nl.with(context).Warn(message)
}

func (nl *NotificationLogger) Error(message string, context ...map[string]interface{}) {
	nl.with(context).Error(message)
}

func (nl *NotificationLogger) with(context []map[string]interface{}) *logrus.Entry {
	entry := nl.entry
	for _, ctx := range context {
		entry = entry.WithFields(logrus.Fields(ctx))
	}
	return entry
}

// LogWebhookAttempt logs a webhook attempt
func (nl *NotificationLogger) LogWebhookAttempt(url, method string) {
	nl.Debug("Webhook attempt started", map[string]interface{}{
		"url":    url,
		"method": method,
	})
}

// LogWebhookResponse logs a webhook response
func (nl *NotificationLogger) LogWebhookResponse(url string, statusCode int, duration time.Duration, err error) {
	context := map[string]interface{}{
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		context["error"] = err.Error()
		nl.Error("Webhook failed", context)
	} else {
		nl.Info("Webhook completed", context)
	}
}

// LogRetryAttempt logs a retry attempt
func (nl *NotificationLogger) LogRetryAttempt(operation string, attempt uint, maxAttempts uint, err error) {
	nl.Warn("Retrying operation", map[string]interface{}{
		"operation":    operation,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"error":        err.Error(),
	})
}
