package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voteledger/registry"
)

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")

	content := `
logger:
  level: debug
  json: true
http-server:
  port: 9090
storage:
  backend: json
  path: /tmp/ledger
ledger:
  salt: pepper
  write_retries: 5
  strict_consensus: true
audit:
  interval: 30s
  auto_repair: true
elections:
  - id: e1
    candidates: [cand-A, cand-B]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.True(t, cfg.Logger.JSON)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, time.Second, cfg.Server.ReadHeaderTimeout)
	require.Equal(t, BackendJSON, cfg.Storage.Backend)
	require.Equal(t, "pepper", cfg.Ledger.Salt)
	require.Equal(t, 5, cfg.Ledger.WriteRetries)
	require.True(t, cfg.Ledger.StrictConsensus)
	require.Equal(t, 30*time.Second, cfg.Audit.Interval)
	require.True(t, cfg.Audit.AutoRepair)
	require.Equal(t, []registry.Election{{ID: "e1", Candidates: []string{"cand-A", "cand-B"}}}, cfg.Elections)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")

	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: mongo\n"), 0644))

	_, err := Load(path)
	require.EqualError(t, err, `invalid config: unknown storage backend "mongo"`)

	require.NoError(t, os.WriteFile(path, []byte("logger: [\n"), 0644))

	_, err = Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Ledger.Salt = ""
	require.EqualError(t, cfg.Validate(), "ledger salt is required")

	cfg = Default()
	cfg.Ledger.WriteRetries = -1
	require.EqualError(t, cfg.Validate(), "write retries must not be negative")

	cfg = Default()
	cfg.Server.Port = 0
	require.EqualError(t, cfg.Validate(), "port 0 out of range")

	cfg = Default()
	cfg.Storage.Path = ""
	require.EqualError(t, cfg.Validate(), "storage path is required for bolt")

	cfg.Storage.Backend = BackendMemory
	require.NoError(t, cfg.Validate())
}
