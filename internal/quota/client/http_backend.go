package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
)

const defaultHTTPTimeout = 5 * time.Second

// ErrRateLimited is returned when the server throttled a use request.
var ErrRateLimited = errors.New("rate_limited")

// APIError is the decoded error body of a failed request.
type APIError struct {
	Status  int
	Type    string
	Message string
	Codes   []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("featuregate api: %d %s: %s", e.Status, e.Type, e.Message)
}

// HTTPBackend talks to the featuregate HTTP API on behalf of one user.
type HTTPBackend struct {
	baseURL    string
	userID     string
	userHeader string
	client     *http.Client
}

type HTTPOption func(*HTTPBackend)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *HTTPBackend) {
		if client != nil {
			b.client = client
		}
	}
}

func WithUserHeader(name string) HTTPOption {
	return func(b *HTTPBackend) {
		if name = strings.TrimSpace(name); name != "" {
			b.userHeader = name
		}
	}
}

func NewHTTPBackend(baseURL, userID string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		userHeader: "X-User-ID",
		client:     &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type useRequest struct {
	AttemptID string         `json:"attempt_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type useResponse struct {
	Granted   bool                `json:"granted"`
	Replayed  bool                `json:"replayed"`
	Usage     domain.FeatureUsage `json:"usage"`
	AttemptID string              `json:"attempt_id"`
}

type attemptResponse struct {
	AttemptID string `json:"attempt_id"`
	Landed    bool   `json:"landed"`
}

func (b *HTTPBackend) GetUsage(ctx context.Context, featureKey string) (domain.FeatureUsage, error) {
	var usage domain.FeatureUsage
	if err := b.do(ctx, http.MethodGet, b.usagePath(featureKey), nil, &usage); err != nil {
		return domain.FeatureUsage{}, transportError(err, false)
	}
	return usage, nil
}

func (b *HTTPBackend) RecordUse(ctx context.Context, featureKey, attemptID string, metadata map[string]any) (domain.RecordResult, error) {
	body, err := json.Marshal(useRequest{AttemptID: attemptID, Metadata: metadata})
	if err != nil {
		return domain.RecordResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidMetadata, err)
	}

	var resp useResponse
	if err := b.do(ctx, http.MethodPost, b.usagePath(featureKey)+"/use", body, &resp); err != nil {
		return domain.RecordResult{}, transportError(err, true)
	}

	outcome := domain.OutcomeDenied
	if resp.Granted {
		outcome = domain.OutcomeGranted
	}
	return domain.RecordResult{
		Outcome:   outcome,
		Usage:     resp.Usage,
		AttemptID: resp.AttemptID,
		Replayed:  resp.Replayed,
	}, nil
}

func (b *HTTPBackend) AttemptLanded(ctx context.Context, featureKey, attemptID string) (bool, error) {
	var resp attemptResponse
	target := b.usagePath(featureKey) + "/attempts/" + url.PathEscape(attemptID)
	if err := b.do(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return false, transportError(err, false)
	}
	return resp.Landed, nil
}

func (b *HTTPBackend) usagePath(featureKey string) string {
	return b.baseURL + "/api/usage/" + url.PathEscape(featureKey)
}

func (b *HTTPBackend) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(b.userHeader, b.userID)

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Errors  []struct {
				Code string `json:"code"`
			} `json:"errors"`
		} `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)

	apiErr := &APIError{
		Status:  resp.StatusCode,
		Type:    payload.Error.Type,
		Message: payload.Error.Message,
	}
	for _, e := range payload.Error.Errors {
		apiErr.Codes = append(apiErr.Codes, e.Code)
	}
	if sentinel := apiErr.sentinel(); sentinel != nil {
		return fmt.Errorf("%w: %w", sentinel, apiErr)
	}
	return apiErr
}

func (e *APIError) sentinel() error {
	switch e.Status {
	case http.StatusGatewayTimeout:
		return domain.ErrOutcomeUnknown
	case http.StatusServiceUnavailable:
		return domain.ErrStoreUnavailable
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusNotFound:
		return domain.ErrFeatureNotFound
	}
	if e.Type == "feature_inactive" {
		return domain.ErrFeatureInactive
	}
	for _, code := range e.Codes {
		switch code {
		case domain.ErrInvalidUser.Error():
			return domain.ErrInvalidUser
		case domain.ErrInvalidFeatureKey.Error():
			return domain.ErrInvalidFeatureKey
		case domain.ErrInvalidMetadata.Error():
			return domain.ErrInvalidMetadata
		case domain.ErrInvalidAttemptID.Error():
			return domain.ErrInvalidAttemptID
		}
	}
	return nil
}

// transportError leaves API errors as decoded. A failed round trip on a use
// request may still have reached the server, so it is ambiguous.
func transportError(err error, recording bool) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if recording {
		return fmt.Errorf("%w: %w", domain.ErrOutcomeUnknown, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
