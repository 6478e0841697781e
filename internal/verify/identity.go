// Package verify provides the external verification adapters: the national
// identity registry and the tax registry. Both are consumed through fixed
// request/response contracts, bounded by configurable timeouts, and degrade to
// "verification unavailable" on failure rather than aborting a fraud check.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// nidPatterns holds per-country national-id formats.
var nidPatterns = map[string]*regexp.Regexp{
	"ET": regexp.MustCompile(`^\d{12}$`),
	"KE": regexp.MustCompile(`^\d{8}$`),
	"NG": regexp.MustCompile(`^\d{11}$`),
	"GH": regexp.MustCompile(`^GHA-\d{9}-\d$`),
}

// ValidNIDFormat reports whether nid matches the country's format. Unknown
// country codes fail closed.
func ValidNIDFormat(nid, countryCode string) bool {
	pattern, ok := nidPatterns[strings.ToUpper(countryCode)]
	if !ok {
		return false
	}
	return pattern.MatchString(strings.TrimSpace(nid))
}

// IdentityVerifier resolves a subject's national-id record and cross-checks
// the provided KYC attributes against it.
type IdentityVerifier interface {
	Verify(ctx context.Context, req IdentityRequest) (*domain.VerifiedIdentity, error)
}

// IdentityRequest carries the applicant-provided attributes to cross-verify.
type IdentityRequest struct {
	NationalID  string `json:"nationalId"`
	Name        string `json:"name"`
	DateOfBirth string `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Gender      string `json:"gender,omitempty"`
	CountryCode string `json:"countryCode,omitempty"` // defaults to ET
}

// identityRecord is the registry's wire format for one national id.
type identityRecord struct {
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Status      string `json:"status"`
	ExpiryDate  string `json:"expiry_date"`
}

// IdentityClient is the HTTP identity-registry adapter. Successful registry
// lookups are cached so repeated checks for one subject don't hammer the
// registry.
type IdentityClient struct {
	baseURL   string
	client    *http.Client
	threshold int
	cache     domain.Cache
	ttl       time.Duration
}

// NewIdentityClient creates the adapter. cache may be nil to disable result
// caching; cfg.TimeoutSecs bounds each registry call (default 30s).
func NewIdentityClient(cfg domain.VerifyConfig, cache domain.Cache) *IdentityClient {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	threshold := cfg.NameSimilarityThreshold
	if threshold <= 0 {
		threshold = 85
	}
	return &IdentityClient{
		baseURL:   strings.TrimRight(cfg.IdentityURL, "/"),
		client:    &http.Client{Timeout: timeout},
		threshold: threshold,
		cache:     cache,
		ttl:       cfg.ResultTTL,
	}
}

// Verify resolves the national id and cross-checks the provided attributes.
// Malformed ids are a ValidationError; registry unavailability is an
// AdapterFailure the orchestrator degrades from.
func (c *IdentityClient) Verify(ctx context.Context, req IdentityRequest) (*domain.VerifiedIdentity, error) {
	country := req.CountryCode
	if country == "" {
		country = "ET"
	}
	if !ValidNIDFormat(req.NationalID, country) {
		return nil, fmt.Errorf("%w: national id %q does not match %s format", domain.ErrValidation, req.NationalID, country)
	}

	rec, err := c.fetch(ctx, req.NationalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Registry reachable but id unknown: a definitive negative.
		return &domain.VerifiedIdentity{Available: true, Valid: false}, nil
	}

	res := &domain.VerifiedIdentity{
		Available:       true,
		Valid:           true,
		MatchedName:     rec.Name,
		Status:          identityStatus(rec.Status),
		SimilarityScore: NameSimilarity(rec.Name, req.Name),
	}
	if rec.ExpiryDate != "" {
		if exp, err := time.Parse("2006-01-02", rec.ExpiryDate); err == nil {
			res.ExpiryDate = exp
		}
	}
	res.KYCMatch = c.kycMatch(rec, req, res.SimilarityScore)
	return res, nil
}

// kycMatch applies the cross-verification policy: fuzzy name at or above the
// threshold, exact date of birth and gender when provided.
func (c *IdentityClient) kycMatch(rec *identityRecord, req IdentityRequest, similarity int) bool {
	if similarity < c.threshold {
		return false
	}
	if req.DateOfBirth != "" && rec.DateOfBirth != req.DateOfBirth {
		return false
	}
	if req.Gender != "" && !strings.EqualFold(rec.Gender, req.Gender) {
		return false
	}
	return true
}

func (c *IdentityClient) fetch(ctx context.Context, nid string) (*identityRecord, error) {
	cacheKey := "nid:" + nid
	if c.cache != nil {
		if raw, err := c.cache.Get(ctx, cacheKey); err == nil && raw != nil {
			var rec identityRecord
			if json.Unmarshal(raw, &rec) == nil {
				return &rec, nil
			}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/identities/"+nid, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: identity registry: %v", domain.ErrAdapterFailure, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: identity registry: %v", domain.ErrAdapterFailure, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: identity registry returned %d", domain.ErrAdapterFailure, resp.StatusCode)
	}

	var rec identityRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: identity registry: malformed response: %v", domain.ErrAdapterFailure, err)
	}

	if c.cache != nil && c.ttl > 0 {
		if raw, err := json.Marshal(rec); err == nil {
			_ = c.cache.Set(ctx, cacheKey, raw, c.ttl)
		}
	}
	return &rec, nil
}

func identityStatus(s string) domain.IdentityStatus {
	switch strings.ToLower(s) {
	case "expired":
		return domain.IdentityExpired
	case "suspended":
		return domain.IdentitySuspended
	default:
		return domain.IdentityActive
	}
}
