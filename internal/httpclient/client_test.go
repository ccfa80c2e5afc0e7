package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smsrag/internal/retry"
)

func TestPostJSON_DecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := PostJSON(context.Background(), NewDefaultHTTPClient(time.Second), srv.URL,
		map[string]string{"Authorization": "Bearer k"}, map[string]string{"msg": "hi"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "hi", out.Echo)
}

func TestPostJSON_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.Client(), srv.URL, nil, struct{}{}, nil)

	var transport *retry.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusServiceUnavailable, transport.StatusCode)
	assert.Contains(t, transport.Body, "overloaded")
	assert.False(t, retry.IsPermanent(err))
}

func TestPostJSON_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	var out map[string]any
	err := PostJSON(context.Background(), srv.Client(), srv.URL, nil, struct{}{}, &out)

	var malformed *retry.MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.True(t, retry.IsPermanent(err))
}

func TestPostJSON_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := PostJSON(context.Background(), NewDefaultHTTPClient(time.Second), url, nil, struct{}{}, nil)

	var transport *retry.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Zero(t, transport.StatusCode)
}
