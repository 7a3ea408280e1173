package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		BaseURL:           srv.URL,
		Concurrency:       4,
		RateLimitPerSec:   1000,
		RetryBudgetTokens: 4,
		RetryBudgetRatio:  1,
		RequestTimeout:    5 * time.Second,
		Logger:            logrus.New(),
	})
}

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uuid":"abc"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	var out struct {
		UUID string `json:"uuid"`
	}
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/item"}, &out)
	require.NoError(t, err)
	require.Equal(t, "abc", out.UUID)
}

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/flaky"}, &struct{}{})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetry4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad","code":"400"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/bad"}, nil)
	require.Error(t, err)
	require.Equal(t, 1, calls)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	require.Equal(t, KindServer, terr.Kind)
}

func TestDoInjectsAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(t, srv)
	c.SetAPIKey("secret-key")
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/auth", Authenticated: true}, &struct{}{})
	require.NoError(t, err)
	require.Equal(t, "Bearer secret-key", gotAuth)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{
		BaseURL:           srv.URL,
		Concurrency:       4,
		RateLimitPerSec:   1000,
		RetryBudgetTokens: 2,
		RetryBudgetRatio:  1,
		RequestTimeout:    5 * time.Second,
	})
	err := c.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/down"}, nil)
	require.Error(t, err)
	// one initial attempt + 2 budget-funded retries = 3
	require.Equal(t, 3, calls)
}
