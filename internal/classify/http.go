package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apiary-data/forager.report/internal/httputil"
)

// defaultHTTPTimeout bounds one classification round trip. Crops are
// small and the model service is on the local network; anything slower
// is better spent on a fresher crop.
const defaultHTTPTimeout = 10 * time.Second

// HTTPClassifier submits crops to a classification service as JSON and
// parses the predicted label from the response.
type HTTPClassifier struct {
	url    string
	client httputil.HTTPClient
}

// NewHTTPClassifier creates a classifier posting to url. A nil client
// gets a standard client with a request timeout.
func NewHTTPClassifier(url string, client httputil.HTTPClient) *HTTPClassifier {
	if client == nil {
		client = httputil.NewStandardClient(&http.Client{Timeout: defaultHTTPTimeout})
	}
	return &HTTPClassifier{url: url, client: client}
}

// Classify posts the request and decodes the service's prediction.
func (c *HTTPClassifier) Classify(ctx context.Context, req Request) (Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to encode classification request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to build classification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Prediction{}, fmt.Errorf("classification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Prediction{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	return pred, nil
}
