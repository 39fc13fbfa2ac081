package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientDecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "count": 2})
	}))
	defer server.Close()

	resp, err := NewHTTPClient().Do(context.Background(), &HTTPRequest{URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, ok := resp.Body.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 2.0, body["count"])
}

func TestHTTPClientSendsJSONBody(t *testing.T) {
	var received map[string]interface{}
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	resp, err := NewHTTPClient().Do(context.Background(), &HTTPRequest{
		URL:    server.URL,
		Method: "POST",
		Body:   map[string]string{"key": "value"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "value", received["key"])
}

func TestHTTPClientQueryParams(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
	}))
	defer server.Close()

	_, err := NewHTTPClient().Do(context.Background(), &HTTPRequest{
		URL:         server.URL,
		QueryParams: map[string]string{"sheet": "orders"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sheet=orders", query)
}

func TestHTTPClientNonJSONBodyStaysRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	resp, err := NewHTTPClient().Do(context.Background(), &HTTPRequest{URL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "plain text", resp.Body)
	assert.Equal(t, []byte("plain text"), resp.RawBody)
}

func TestHTTPClientContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPClient().Do(ctx, &HTTPRequest{URL: "http://localhost:0"})
	require.Error(t, err)
}
