package plugin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manytask/checker/pkg/pipeline"
	"github.com/manytask/checker/pkg/plugin"
)

func TestReportScorePlugin_RetriesRetryableStatusThenSucceeds(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"score": 0.8}`))
	}))
	defer server.Close()

	p := plugin.NewReportScorePlugin(server.Client())

	out, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"username":      "student1",
		"taskName":      "hello-world",
		"score":         0.8,
		"reportUrl":     server.URL,
		"reportToken":   "tok",
		"checkDeadline": true,
	}, false)
	require.NoError(t, err)
	assert.Contains(t, out.Stdout, "hello-world")
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestReportScorePlugin_NonRetryableStatusFailsImmediately(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad token"))
	}))
	defer server.Close()

	p := plugin.NewReportScorePlugin(server.Client())

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"username":    "student1",
		"taskName":    "hello-world",
		"score":       0.8,
		"reportUrl":   server.URL,
		"reportToken": "tok",
	}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrPluginExecutionFailed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&attempts))
}

func TestReportScorePlugin_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := plugin.NewReportScorePlugin(server.Client())

	_, err := p.Run(context.Background(), pipeline.NewContext(), map[string]any{
		"username":    "student1",
		"taskName":    "hello-world",
		"score":       0.8,
		"reportUrl":   server.URL,
		"reportToken": "tok",
	}, false)
	require.Error(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}
