// Package notifier delivers completion notices to an external webhook.
// Delivery is fire-and-forget from the run's perspective: failures are logged
// and never surface to the caller.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/ridgelab/internal/logging"
)

// Notifier sends a human-readable notice and reports delivery.
type Notifier interface {
	Notify(ctx context.Context, title, content string) (bool, error)
}

type notifyRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// WebhookNotifier posts notices to a configured HTTP endpoint.
type WebhookNotifier struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier constructs a notifier for the given endpoint.
func NewWebhookNotifier(endpoint string, httpClient *http.Client, logger *zap.Logger) *WebhookNotifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebhookNotifier{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger.Named("webhook_notifier"),
	}
}

// Notify posts the notice. A non-2xx response counts as undelivered.
func (n *WebhookNotifier) Notify(ctx context.Context, title, content string) (bool, error) {
	payload, err := json.Marshal(notifyRequest{Title: title, Content: content})
	if err != nil {
		return false, logging.NewOperationError("notifier.marshal", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, logging.NewOperationError("notifier.build_request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, logging.NewOperationError("notifier.deliver", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, logging.NewOperationError("notifier.deliver", "",
			fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return true, nil
}
