package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPrintsChunks(t *testing.T) {
	srv := sseServer(t,
		`{"type":"session_start","session_id":"s9"}`,
		`{"type":"chunk","session_id":"s9","content":"Hel"}`,
		`{"type":"chunk","session_id":"s9","content":"lo!"}`,
		`{"type":"complete","session_id":"s9","full_text":"Hello!","full_response":"Hello!"}`,
	)
	var out strings.Builder

	id, err := run(context.Background(), srv.Client(), srv.URL, "", "hi", &out)

	require.NoError(t, err)
	assert.Equal(t, "s9", id)
	assert.Equal(t, "Hello!", out.String())
}

func TestRunReturnsStreamError(t *testing.T) {
	srv := sseServer(t,
		`{"type":"session_start","session_id":"s1"}`,
		`{"type":"error","session_id":"s1","error":"model provider failed: timeout","message":"model provider failed: timeout"}`,
	)

	_, err := run(context.Background(), srv.Client(), srv.URL, "s1", "hi", &strings.Builder{})

	assert.EqualError(t, err, "model provider failed: timeout")
}

func TestRunTruncatedStream(t *testing.T) {
	srv := sseServer(t, `{"type":"session_start","session_id":"s1"}`)

	_, err := run(context.Background(), srv.Client(), srv.URL, "s1", "hi", &strings.Builder{})

	assert.ErrorContains(t, err, "without a complete event")
}

func TestRunBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"message is required","status":"error"}`))
	}))
	defer srv.Close()

	_, err := run(context.Background(), srv.Client(), srv.URL, "", "hi", &strings.Builder{})

	assert.ErrorContains(t, err, "400: message is required")
}
