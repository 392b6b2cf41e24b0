package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndValidateURLParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		paramValue string
		wantValue  string
		wantErrMsg string
	}{
		{name: "view id", paramValue: "dashboard", wantValue: "dashboard"},
		{name: "uuid", paramValue: "5f0c5a9e-58d4-4d43-a1a3-0a3b8f1d7c21", wantValue: "5f0c5a9e-58d4-4d43-a1a3-0a3b8f1d7c21"},
		{name: "underscores and dots", paramValue: "daily_ingest.v2", wantValue: "daily_ingest.v2"},
		{name: "encoded colon", paramValue: "ingest%3Anightly", wantValue: "ingest:nightly"},
		// chi leaves %25 encoded, we decode it once
		{name: "encoded percent", paramValue: "a%2525b", wantValue: "a%b"},
		{name: "encoded space only", paramValue: "%20%20", wantErrMsg: "id cannot be empty"},
		{name: "encoded tab only", paramValue: "%09", wantErrMsg: "id cannot be empty"},
		{name: "space in middle", paramValue: "market%20overview", wantErrMsg: "id cannot contain whitespace or control characters"},
		{name: "newline at end", paramValue: "dashboard%0A", wantErrMsg: "id cannot contain whitespace or control characters"},
		{name: "control character", paramValue: "dash%07board", wantErrMsg: "id cannot contain whitespace or control characters"},
		{name: "too long", paramValue: strings.Repeat("a", MaxURLParamLength+1), wantErrMsg: "id exceeds 128 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				got    string
				gotErr error
			)
			r := chi.NewRouter()
			r.Get("/items/{id}", func(_ http.ResponseWriter, req *http.Request) {
				got, gotErr = GetAndValidateURLParam(req, "id")
			})

			req := httptest.NewRequest(http.MethodGet, "/items/"+tt.paramValue, nil)
			r.ServeHTTP(httptest.NewRecorder(), req)

			if tt.wantErrMsg != "" {
				require.Error(t, gotErr)
				assert.Equal(t, tt.wantErrMsg, gotErr.Error())
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

func TestGetAndValidateURLParamMissing(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := GetAndValidateURLParam(req, "id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteErrorResponse(rr, "session not found", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"session not found"}`, rr.Body.String())
}
