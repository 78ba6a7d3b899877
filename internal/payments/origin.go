package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPOrigin forwards enriched payment requests to the origin backend, which
// performs the actual charge against the provider.
type HTTPOrigin struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOrigin(baseURL string) *HTTPOrigin {
	return &HTTPOrigin{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (o *HTTPOrigin) CreatePayment(ctx context.Context, req *OriginRequest) (*OriginResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode origin request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/payments/create", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("origin payment call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin response: %w", err)
	}

	return &OriginResponse{
		StatusCode:      resp.StatusCode,
		Body:            body,
		SquarePaymentID: extractSquarePaymentID(body),
	}, nil
}

func extractSquarePaymentID(body []byte) string {
	var parsed struct {
		Payment struct {
			ID string `json:"id"`
		} `json:"payment"`
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Payment.ID != "" {
		return parsed.Payment.ID
	}
	return parsed.PaymentID
}
