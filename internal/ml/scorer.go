// Package ml adapts the external anomaly-scoring service. The scorer is
// optional: when it is disabled or unreachable, the decision proceeds on rules
// alone and the fallback is logged, never surfaced as an error to the caller.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scorer requests an anomaly score in [0,1] for a transaction feature vector.
type Scorer interface {
	Score(ctx context.Context, features []float64, amount float64, ts time.Time) (float64, error)
}

// FeatureCount is the width of the model's feature vector.
const FeatureCount = 28

// Client is the HTTP scorer adapter.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates the adapter; cfg.TimeoutSecs bounds each call.
func NewClient(cfg domain.MLConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Transactions []transactionFeatures `json:"transactions"`
}

type transactionFeatures struct {
	V      []float64 `json:"V"`
	Time   float64   `json:"Time"`
	Amount float64   `json:"Amount"`
}

type scoreResponse struct {
	Predictions []struct {
		IsAnomaly    bool    `json:"is_anomaly"`
		AnomalyScore float64 `json:"anomaly_score"`
	} `json:"predictions"`
}

// Score calls the model endpoint. A missing feature vector is padded with
// zeros. Unreachability and malformed answers come back as AdapterFailure.
func (c *Client) Score(ctx context.Context, features []float64, amount float64, ts time.Time) (float64, error) {
	if len(features) == 0 {
		features = make([]float64, FeatureCount)
	}

	body, _ := json.Marshal(scoreRequest{
		Transactions: []transactionFeatures{{
			V:      features,
			Time:   float64(ts.Unix()),
			Amount: amount,
		}},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: ml scorer: %v", domain.ErrAdapterFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: ml scorer: %v", domain.ErrAdapterFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: ml scorer returned %d", domain.ErrAdapterFailure, resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("%w: ml scorer: malformed response: %v", domain.ErrAdapterFailure, err)
	}
	if len(decoded.Predictions) == 0 {
		return 0, fmt.Errorf("%w: ml scorer: empty prediction set", domain.ErrAdapterFailure)
	}

	score := decoded.Predictions[0].AnomalyScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// RiskLevel maps an anomaly score to its display band.
func RiskLevel(score float64) string {
	switch {
	case score < 0.25:
		return "Low"
	case score < 0.50:
		return "Medium"
	case score < 0.75:
		return "High"
	default:
		return "Critical"
	}
}
