package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "./wal/trades", cfg.WALDir)
	assert.Equal(t, 1000, cfg.SegmentThreshold)
	assert.Equal(t, "json", cfg.LogEncoding)
	assert.False(t, cfg.RequireSignatures)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestParse_Flags(t *testing.T) {
	cfg, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"--addr", "127.0.0.1:9000",
		"--requiresignatures",
		"--corsorigins", "http://localhost:3000, https://ledger.example",
		"--heartbeat", "5s",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.True(t, cfg.RequireSignatures)
	assert.Equal(t, []string{"http://localhost:3000", "https://ledger.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.StreamHeartbeat)
}

func TestParse_InvalidFlags(t *testing.T) {
	_, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--logencoding", "xml"})
	require.Error(t, err)

	_, err = Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--segmentthreshold", "0"})
	require.Error(t, err)
}

func TestParse_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
wal_dir: /var/lib/ledger
require_signatures: true
cors_origins:
  - http://localhost:3000
stream_heartbeat: 10s
`), 0o644))

	cfg, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/ledger", cfg.WALDir)
	assert.True(t, cfg.RequireSignatures)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.StreamHeartbeat)
	assert.Equal(t, 1000, cfg.SegmentThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, path, cfg.Path)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	want := Default()
	want.RequireSignatures = true
	want.CORSOrigins = []string{"https://ledger.example"}

	require.NoError(t, Save(path, want))

	got, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config", path})
	require.NoError(t, err)

	want.Path = path
	assert.Equal(t, want, got)
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config", "/does/not/exist.yaml"})
	require.Error(t, err)
}

func TestParse_TLS(t *testing.T) {
	cfg, err := Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"--tlsdomains", "ledger.example.com, api.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger.example.com", "api.example.com"}, cfg.TLSDomains)
	assert.Equal(t, "cert-cache", cfg.TLSCacheDir)

	_, err = Parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"--tlsdomains", "ledger.example.com", "--tlscachedir", "",
	})
	require.Error(t, err)
}
