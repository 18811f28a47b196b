package loyalty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tablepos/internal/config"
)

func TestAwardPoints(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"points": 37}`))
	}))
	defer srv.Close()

	c := New(config.LoyaltyConfig{URL: srv.URL, TimeoutMs: 500})
	points, err := c.AwardPoints(context.Background(), 9, 42, decimal.RequireFromString("37.5"))
	require.NoError(t, err)
	require.Equal(t, int64(37), points)
	require.Equal(t, "37.50", got["amount"])
	require.EqualValues(t, 42, got["customer_id"])
}

func TestAwardPointsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error": "upstream"}`))
	}))
	defer srv.Close()

	c := New(config.LoyaltyConfig{URL: srv.URL})
	_, err := c.AwardPoints(context.Background(), 1, 1, decimal.NewFromInt(10))
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	p, err := Noop{}.AwardPoints(context.Background(), 1, 1, decimal.Zero)
	require.NoError(t, err)
	require.Zero(t, p)
}
