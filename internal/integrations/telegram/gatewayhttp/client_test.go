package gatewayhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/CargoFlow/internal/integrations/telegram"
	"github.com/stretchr/testify/require"
)

func TestClient_Send_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/notifications", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var req sendReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "12345", req.ChatID)
		require.Equal(t, "transit", req.Kind)
		require.Equal(t, 3, req.Count)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Send(context.Background(), telegram.Notification{
		ChatID: "12345",
		Kind:   "transit",
		Count:  3,
	})
	require.NoError(t, err)
}

func TestClient_Send_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","error":"chat not found"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Send(context.Background(), telegram.Notification{ChatID: "1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestClient_Send_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Send(context.Background(), telegram.Notification{ChatID: "1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
