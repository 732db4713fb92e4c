package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/xraysup/internal/engine"
	"github.com/die-net/xraysup/internal/enginetest"
	"github.com/die-net/xraysup/internal/testutil"
)

func TestMain(m *testing.M) {
	os.Exit(enginetest.Run(m))
}

func TestParseTCPKeepAlive(t *testing.T) {
	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:30:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 30 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "1:2", wantErr: true},
		{in: "0:1:1", wantErr: true},
		{in: "a:1:1", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadTargets(t *testing.T) {
	a := writeFile(t, "a.json", `{"inbounds": []}`)
	b := writeFile(t, "b.json", `{"inbounds": []}`)

	targets, err := loadTargets([]string{a, b})
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.NotEmpty(t, targets[0].ServerID)
	assert.NotEqual(t, targets[0].ServerID, targets[1].ServerID)

	_, err = loadTargets([]string{writeFile(t, "bad.json", `[1, 2]`)})
	assert.ErrorContains(t, err, "bad.json")

	_, err = loadTargets([]string{filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--settings", filepath.Join(t.TempDir(), "settings.yaml"),
		"--xray-binary", enginetest.Binary(t),
		"--log-level", "error",
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)

	var info engine.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Available)
	assert.Equal(t, "1.8.4", info.Version)
}

func TestTestCommand(t *testing.T) {
	probe := testutil.StartStatusServer(t, http.StatusNoContent)

	good := writeFile(t, "good.json", `{
		"inbounds": [
			{"tag": "socks-in", "port": 1080, "protocol": "socks"},
			{"tag": "http-in", "port": 1081, "protocol": "http"}
		]
	}`)
	noHTTP := writeFile(t, "no-http.json", `{"inbounds": [{"tag": "socks-in", "port": 1080, "protocol": "socks"}]}`)

	out, err := execute(t, "test", "--probe-url", probe.URL, "--probe-settle", "100ms", good, noHTTP)
	assert.ErrorContains(t, err, "1 of 2 configurations failed")

	var results []fileResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, good, results[0].File)
	assert.True(t, results[0].Success, results[0].Error)
	assert.Equal(t, noHTTP, results[1].File)
	assert.False(t, results[1].Success)
	assert.Equal(t, int64(1), probe.Hits())
}

func TestTestCommandRequiresArgs(t *testing.T) {
	_, err := execute(t, "test")
	assert.Error(t, err)
}
