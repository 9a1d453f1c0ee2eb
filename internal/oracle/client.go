package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/ridgelab/internal/logging"
)

type assessRequest struct {
	OriginalRef  string `json:"original_ref"`
	ProcessedRef string `json:"processed_ref"`
	ElapsedMs    int64  `json:"elapsed_ms"`
}

// HTTPClient talks to the assessment service over JSON/HTTP.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient constructs a client for the given endpoint. The http.Client
// is injected so callers control transport timeouts.
func NewHTTPClient(endpoint, apiKey string, httpClient *http.Client, logger *zap.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.Named("oracle_client"),
	}
}

// Assess posts the artifact references and decodes the structured report.
func (c *HTTPClient) Assess(ctx context.Context, originalRef, processedRef string, elapsedMs int64) (*Report, error) {
	payload, err := json.Marshal(assessRequest{
		OriginalRef:  originalRef,
		ProcessedRef: processedRef,
		ElapsedMs:    elapsedMs,
	})
	if err != nil {
		return nil, logging.NewOperationError("oracle.marshal_request", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, logging.NewOperationError("oracle.build_request", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("oracle.assess", "", err)
		c.logger.Warn("assessment call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("assessment service returned status %d", resp.StatusCode)
		c.logger.Warn("assessment call rejected", zap.Int("status", resp.StatusCode))
		return nil, logging.NewOperationError("oracle.assess", "", err)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, logging.NewOperationError("oracle.decode_response", "", err)
	}
	if report.Confidence < 0 {
		report.Confidence = 0
	}
	if report.Confidence > 1 {
		report.Confidence = 1
	}
	return &report, nil
}
