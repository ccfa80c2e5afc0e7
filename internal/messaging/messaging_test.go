package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestTelnyxClient_Send(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c, err := NewTelnyxClient("KEY", "+15550001", "profile-1", arbor.NewLogger(), WithURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	require.NoError(t, c.Send(context.Background(), "+15550002", "hello"))
	assert.Equal(t, "Bearer KEY", auth)
	assert.Equal(t, sendRequest{From: "+15550001", To: "+15550002", Text: "hello", MessagingProfileID: "profile-1"}, got)
}

func TestTelnyxClient_SendRejected(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "invalid number", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c, err := NewTelnyxClient("KEY", "+1", "p", arbor.NewLogger(), WithURL(srv.URL), WithRateLimit(100))
	require.NoError(t, err)

	err = c.Send(context.Background(), "bad", "hello")

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Body, "invalid number")
	assert.Equal(t, 1, calls, "sends are not retried")
}

func TestTelnyxClient_RateLimitHonorsContext(t *testing.T) {
	c, err := NewTelnyxClient("KEY", "+1", "p", arbor.NewLogger(), WithURL("http://127.0.0.1:0"), WithRateLimit(0.001))
	require.NoError(t, err)
	require.True(t, c.limiter.Allow(), "first token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Send(ctx, "+2", "hi"))
}

func TestNewTelnyxClient_RequiresKey(t *testing.T) {
	_, err := NewTelnyxClient("", "+1", "p", arbor.NewLogger())
	assert.Error(t, err)
}

func TestLogMessenger(t *testing.T) {
	assert.NoError(t, NewLogMessenger(arbor.NewLogger()).Send(context.Background(), "+1", "hi"))
}
