package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var payload = bytes.Repeat([]byte("z"), 4096)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)

			return
		}

		body := payload

		var start int
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &start); err == nil {
			body = payload[start:]
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestRun_Downloads(t *testing.T) {
	srv := newServer(t)
	dest := filepath.Join(t.TempDir(), "out.bin")

	var stdout, stderr bytes.Buffer

	require.NoError(t, run(context.Background(), []string{srv.URL + "/file", dest}, &stdout, &stderr))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Contains(t, stdout.String(), "4.1 kB written")
}

func TestRun_Resume(t *testing.T) {
	srv := newServer(t)
	dest := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(dest, payload[:1000], 0o644))

	var stdout, stderr bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"-resume", srv.URL + "/file", dest}, &stdout, &stderr))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRun_Errors(t *testing.T) {
	srv := newServer(t)
	dest := filepath.Join(t.TempDir(), "out.bin")

	var stdout, stderr bytes.Buffer

	err := run(context.Background(), []string{srv.URL}, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage)

	err = run(context.Background(), []string{srv.URL + "/missing", dest}, &stdout, &stderr)

	var statusErr *transfer.ServerStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBarListener(t *testing.T) {
	var out bytes.Buffer

	l := &barListener{out: &out, description: "out.bin"}
	l.OnProgress(transfer.Progress{Percent: 50, Written: 50, Received: 50, Total: 100})
	require.NotNil(t, l.bar)
	assert.Equal(t, int64(50), l.bar.State().CurrentNum)

	l.OnProgress(transfer.Progress{Percent: 100, Written: 100, Received: 100, Total: 100})
	l.OnComplete("out.bin")
	assert.Equal(t, int64(100), l.bar.State().CurrentNum)

	// Failures before any progress must not panic.
	(&barListener{out: &out}).OnFailure(assert.AnError)
}
