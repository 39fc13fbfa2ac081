package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/sheetflow/pkg/logging"
)

// assistantStub simulates the submit-then-poll assistant service.
// submitOutages and pollOutages make that many leading requests answer
// with a 5xx before the stub behaves normally.
type assistantStub struct {
	submits       int64
	polls         int64
	pollsUntil    int64
	answer        string
	failWith      string
	submitOutages int64
	pollOutages   int64
}

func (s *assistantStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/queries", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		if atomic.AddInt64(&s.submits, 1) <= s.submitOutages {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "q-123"})
	})
	mux.HandleFunc("/v1/queries/q-123", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&s.polls, 1)
		if n <= s.pollOutages {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		response := map[string]interface{}{"status": "processing"}
		if n >= s.pollsUntil {
			if s.failWith != "" {
				response = map[string]interface{}{"status": "failed", "error": s.failWith}
			} else {
				response = map[string]interface{}{"status": "completed", "answer": s.answer, "model": "stub-1"}
			}
		}
		_ = json.NewEncoder(w).Encode(response)
	})
	return mux
}

func newTestClient(endpoint string) *Client {
	return NewClient(ClientConfig{
		Endpoint:     endpoint,
		PollInterval: 10 * time.Millisecond,
		QueryTimeout: 2 * time.Second,
	}, logging.NewNopLogger())
}

func TestClientQueryPollsUntilComplete(t *testing.T) {
	stub := &assistantStub{pollsUntil: 3, answer: "the average is 42"}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	response, err := newTestClient(server.URL).Query(context.Background(), QueryRequest{
		Prompt:  "what is the average?",
		Columns: []string{"value"},
	})
	require.NoError(t, err)

	assert.Equal(t, "the average is 42", response.Answer)
	assert.Equal(t, "stub-1", response.Model)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&stub.polls), int64(3))
}

func TestClientQueryFailure(t *testing.T) {
	stub := &assistantStub{pollsUntil: 1, failWith: "model overloaded"}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	_, err := newTestClient(server.URL).Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestClientQueryTimeout(t *testing.T) {
	// The stub never completes, so the wall clock has to fire
	stub := &assistantStub{pollsUntil: 1 << 30}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	client := NewClient(ClientConfig{
		Endpoint:     server.URL,
		PollInterval: 10 * time.Millisecond,
		QueryTimeout: 100 * time.Millisecond,
	}, logging.NewNopLogger())

	_, err := client.Query(context.Background(), QueryRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrAssistantTimeout)
}

func TestClientRetriesTransientSubmitFailure(t *testing.T) {
	stub := &assistantStub{pollsUntil: 1, answer: "ok", submitOutages: 1}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	response, err := newTestClient(server.URL).Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "ok", response.Answer)
	assert.Equal(t, int64(2), atomic.LoadInt64(&stub.submits))
}

func TestClientRetriesTransientPollFailure(t *testing.T) {
	stub := &assistantStub{pollsUntil: 2, answer: "ok", pollOutages: 1}
	server := httptest.NewServer(stub.handler(t))
	defer server.Close()

	response, err := newTestClient(server.URL).Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "ok", response.Answer)
	assert.GreaterOrEqual(t, atomic.LoadInt64(&stub.polls), int64(2))
}

func TestClientQueryRejectedSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestClientSendsAuthHeader(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "q-123", "status": "completed", "answer": "ok"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{
		Endpoint:     server.URL,
		APIKey:       "key-abc",
		PollInterval: 10 * time.Millisecond,
		QueryTimeout: time.Second,
	}, logging.NewNopLogger())

	_, err := client.Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-abc", auth)
}
