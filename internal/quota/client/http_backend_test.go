package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/featuregate/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorBody(typ, code string) map[string]any {
	payload := map[string]any{"type": typ, "message": typ}
	if code != "" {
		payload["errors"] = []map[string]string{{"field": "x", "code": code}}
	}
	return map[string]any{"error": payload}
}

func TestHTTPBackendGetAndUse(t *testing.T) {
	var gotUser, gotBody, gotAttempt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-Account")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/usage/video_analysis":
			writeJSON(w, http.StatusOK, usage(2, 5))
		case r.Method == http.MethodPost && r.URL.Path == "/api/usage/video_analysis/use":
			var req useRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotBody, _ = req.Metadata["video_id"].(string)
			gotAttempt = req.AttemptID
			writeJSON(w, http.StatusOK, map[string]any{"granted": true, "usage": usage(3, 5), "attempt_id": req.AttemptID})
		case r.Method == http.MethodGet && r.URL.Path == "/api/usage/video_analysis/attempts/a-1":
			writeJSON(w, http.StatusOK, map[string]any{"attempt_id": "a-1", "landed": true})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL+"/", "user-1", WithUserHeader("X-Account"))

	u, err := b.GetUsage(context.Background(), "video_analysis")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.CurrentUsage)
	assert.Equal(t, "user-1", gotUser)

	res, err := b.RecordUse(context.Background(), "video_analysis", "a-1", map[string]any{"video_id": "v9"})
	require.NoError(t, err)
	assert.True(t, res.Granted())
	assert.Equal(t, int64(3), res.Usage.CurrentUsage)
	assert.Equal(t, "a-1", res.AttemptID)
	assert.Equal(t, "a-1", gotAttempt)
	assert.Equal(t, "v9", gotBody)

	landed, err := b.AttemptLanded(context.Background(), "video_analysis", "a-1")
	require.NoError(t, err)
	assert.True(t, landed)
}

func TestHTTPBackendErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   error
	}{
		{"outcome unknown", http.StatusGatewayTimeout, errorBody("outcome_unknown", ""), domain.ErrOutcomeUnknown},
		{"unavailable", http.StatusServiceUnavailable, errorBody("service_unavailable", ""), domain.ErrStoreUnavailable},
		{"rate limited", http.StatusTooManyRequests, errorBody("rate_limited", ""), ErrRateLimited},
		{"not found", http.StatusNotFound, errorBody("not_found", ""), domain.ErrFeatureNotFound},
		{"inactive", http.StatusConflict, errorBody("feature_inactive", ""), domain.ErrFeatureInactive},
		{"metadata", http.StatusBadRequest, errorBody("validation_error", "invalid_metadata"), domain.ErrInvalidMetadata},
		{"attempt id", http.StatusBadRequest, errorBody("validation_error", "invalid_attempt_id"), domain.ErrInvalidAttemptID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPBackend(srv.URL, "user-1").RecordUse(context.Background(), "video_analysis", "a-1", nil)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}
}

func TestHTTPBackendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	b := NewHTTPBackend(url, "user-1")
	_, err := b.GetUsage(context.Background(), "video_analysis")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrOutcomeUnknown)

	_, err = b.RecordUse(context.Background(), "video_analysis", "a-1", nil)
	assert.ErrorIs(t, err, domain.ErrOutcomeUnknown)

	_, err = b.AttemptLanded(context.Background(), "video_analysis", "a-1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, domain.ErrOutcomeUnknown)
}

func TestSessionOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("service_unavailable", ""))
	}))
	defer srv.Close()

	st := NewSession(NewHTTPBackend(srv.URL, "user-1"), nil).Load(context.Background(), "video_analysis")
	assert.ErrorIs(t, st.Err, domain.ErrStoreUnavailable)
	assert.False(t, st.CanUse())
	assert.Nil(t, st.Usage)
}
