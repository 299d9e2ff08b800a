package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/devhost/internal/history"
)

func testEvent() history.Event {
	return history.Event{
		Type:       history.EventReady,
		OccurredAt: time.Unix(1700000000, 42).UTC(),
		Record:     history.Record{Name: "vite", Port: 3000, PID: 12345, SourceDir: "/srv/app", Outcome: "ready", DurationMS: 800},
	}
}

func TestSendPutsDocumentUnderEventID(t *testing.T) {
	var (
		method, path, user, pass string
		body                     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		user, pass, _ = r.BasicAuth()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	ev := testEvent()
	sink := New(srv.URL+"/", "devhost").WithBasicAuth("admin", "secret")
	require.NoError(t, sink.Send(context.Background(), ev))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/devhost/_doc/vite-ready-1700000000000000042", path)
	assert.Equal(t, "admin", user)
	assert.Equal(t, "secret", pass)

	var got history.Event
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, history.EventReady, got.Type)
	assert.Equal(t, ev.Record, got.Record)
	assert.True(t, ev.OccurredAt.Equal(got.OccurredAt))
}

func TestSendRetryReusesID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := New(srv.URL, "devhost")
	require.NoError(t, sink.Send(context.Background(), testEvent()))
	require.NoError(t, sink.Send(context.Background(), testEvent()))
	require.Len(t, paths, 2)
	assert.Equal(t, paths[0], paths[1])
}

func TestSendReportsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("mapper_parsing_exception\n"))
	}))
	defer srv.Close()

	err := New(srv.URL, "devhost").Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.EqualError(t, err, "opensearch sink status 400: mapper_parsing_exception")
}

func TestSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	assert.Error(t, New(addr, "devhost").Send(context.Background(), testEvent()))
}
