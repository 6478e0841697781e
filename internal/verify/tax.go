package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TaxVerifier resolves a TIN to its registered name and status.
type TaxVerifier interface {
	Lookup(ctx context.Context, tin string) (*TINRecord, error)
}

// TINRecord is the tax-registry answer for one TIN.
type TINRecord struct {
	RegisteredName string `json:"registeredName"`
	Status         string `json:"status"`
}

// TaxClient is the HTTP tax-registry adapter.
type TaxClient struct {
	baseURL string
	client  *http.Client
}

// NewTaxClient creates the adapter; cfg.TimeoutSecs bounds each lookup
// (default 30s, the registry's published SLA).
func NewTaxClient(cfg domain.VerifyConfig) *TaxClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TaxClient{
		baseURL: strings.TrimRight(cfg.TaxRegistryURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type tinLookupRequest struct {
	TIN string `json:"tin_number"`
}

type tinLookupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *struct {
		BusinessName string `json:"business_name"`
		Name         string `json:"name"`
		Status       string `json:"status"`
	} `json:"data,omitempty"`
}

// Lookup resolves the TIN. Registry unreachability or a malformed body is an
// AdapterFailure; a well-formed "not registered" answer returns ErrNotFound.
func (c *TaxClient) Lookup(ctx context.Context, tin string) (*TINRecord, error) {
	if strings.TrimSpace(tin) == "" {
		return nil, fmt.Errorf("%w: tin is required", domain.ErrValidation)
	}

	body, _ := json.Marshal(tinLookupRequest{TIN: tin})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: tax registry: %v", domain.ErrAdapterFailure, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: tax registry: %v", domain.ErrAdapterFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: tin %s", domain.ErrNotFound, tin)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tax registry returned %d", domain.ErrAdapterFailure, resp.StatusCode)
	}

	var decoded tinLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: tax registry: malformed response: %v", domain.ErrAdapterFailure, err)
	}
	if !decoded.Success || decoded.Data == nil {
		return nil, fmt.Errorf("%w: tin %s: %s", domain.ErrNotFound, tin, decoded.Message)
	}

	name := decoded.Data.BusinessName
	if name == "" {
		name = decoded.Data.Name
	}
	return &TINRecord{
		RegisteredName: strings.TrimSpace(name),
		Status:         strings.ToLower(decoded.Data.Status),
	}, nil
}
