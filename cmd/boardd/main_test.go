package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/boardcache/internal/cluster"
	"github.com/dreamware/boardcache/internal/invalidate"
)

func TestLocalAddr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{":8080", "127.0.0.1:8080"},
		{"0.0.0.0:8080", "127.0.0.1:8080"},
		{"10.0.0.2:8080", "10.0.0.2:8080"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, localAddr(tt.in), tt.in)
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("BOARDD_CONFIG", "")
	configPath = ""
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestSignalRejectsMissingBoard(t *testing.T) {
	err := execute(t, "signal", "--addr", "127.0.0.1:1", "--thread", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, invalidate.ErrInvalidSignal)
}

func TestRebuildCommand(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(cluster.Envelope{Status: "ok", Data: map[string]string{"id": "abc"}})
	}))
	defer srv.Close()

	require.NoError(t, execute(t, "rebuild", "--addr", strings.TrimPrefix(srv.URL, "http://")))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/.api/rebuild", path)
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.api/clusterStatus", r.URL.Path)
		json.NewEncoder(w).Encode(cluster.Envelope{Status: "ok", Data: cluster.Status{
			Role:   "master",
			Slaves: []cluster.SlaveHealth{{Addr: "http://10.0.0.2:8080", Status: "healthy", LastHealthy: time.Now()}},
		}})
	}))
	defer srv.Close()

	require.NoError(t, execute(t, "status", "--addr", strings.TrimPrefix(srv.URL, "http://")))
}

func TestStatusCommandRejectsErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(cluster.Envelope{Status: "maintenance"})
	}))
	defer srv.Close()

	err := execute(t, "status", "--addr", strings.TrimPrefix(srv.URL, "http://"))
	assert.ErrorContains(t, err, "maintenance")
}
