package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

const (
	payloadSource  = "staking-stats"
	payloadVersion = "1.0"
	maxRetryDelay  = 30 * time.Second
)

// WebhookSender delivers run notifications over HTTP
type WebhookSender struct {
	config     *config.NotificationConfig
	logger     *NotificationLogger
	httpClient *http.Client
}

// WebhookPayload defines the webhook payload structure
type WebhookPayload struct {
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Run       *models.RunRecord `json:"run"`
	Version   string            `json:"version"`
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(cfg *config.NotificationConfig, logger *NotificationLogger) *WebhookSender {
	return &WebhookSender{
		config: cfg,
		logger: logger.WithField("channel", "webhook"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// SendWebhook posts the payload to one target, retrying transient failures
func (ws *WebhookSender) SendWebhook(ctx context.Context, target config.WebhookConfig, payload *WebhookPayload) error {
	method := target.Method
	if method == "" {
		method = http.MethodPost
	}
	ws.logger.LogWebhookAttempt(target.URL, method)

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	attempts := ws.config.RetryAttempts
	if attempts == 0 {
		attempts = 1
	}

	start := time.Now()
	var status int
	err = retry.Do(
		func() error {
			var sendErr error
			status, sendErr = ws.sendOnce(ctx, method, target, body)
			return sendErr
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(ws.config.RetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			ws.logger.LogRetryAttempt("webhook", n+1, attempts, err)
		}),
	)
	ws.logger.LogWebhookResponse(target.URL, status, time.Since(start), err)
	return err
}

func (ws *WebhookSender) sendOnce(ctx context.Context, method string, target config.WebhookConfig, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, retry.Unrecoverable(utils.NewAppError(utils.ErrCodeInternal, "Failed to create webhook request", err.Error()))
	}
	ws.setRequestHeaders(req, target.Headers)

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeExternal, "Failed to send webhook", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	appErr := utils.NewAppError(utils.ErrCodeExternal,
		"Webhook returned non-success status",
		fmt.Sprintf("status: %d, body: %s", resp.StatusCode, snippet))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500 {
		return resp.StatusCode, appErr
	}
	return resp.StatusCode, retry.Unrecoverable(appErr)
}

// setRequestHeaders sets HTTP request headers
func (ws *WebhookSender) setRequestHeaders(req *http.Request, headers map[string]string) {
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Staking-Stats/1.0")
	}
	req.Header.Set("X-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Request-ID", utils.GenerateID())
}
