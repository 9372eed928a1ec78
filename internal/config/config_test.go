package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(8453), cfg.Attest.ChainID)
	assert.True(t, cfg.Attest.ReattestOnAmbiguous)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "offline"
log_level = "debug"

[attest]
chain_id = 10
change_threshold_percent = 5.5
lock_ttl = "45s"

[[attest.chains]]
chain_id = 31337
name = "anvil"
contract = "0x00000000000000000000000000000000000000aa"
schema_uid = "0x0000000000000000000000000000000000000000000000000000000000000001"
`)
	t.Setenv("PREDICTATTEST_ATTEST_CHAIN_ID", "31337")
	t.Setenv("PREDICTATTEST_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "offline", cfg.Mode)
	assert.Equal(t, uint64(31337), cfg.Attest.ChainID)
	assert.Equal(t, 5.5, cfg.Attest.ChangeThresholdPercent)
	assert.Equal(t, 45*time.Second, cfg.Attest.LockTTL.Duration)
	require.Len(t, cfg.Attest.Chains, 1)
	assert.Equal(t, "anvil", cfg.Attest.Chains[0].Name)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Attest.ChainID = 0
	cfg.Attest.ChangeThresholdPercent = 150
	cfg.Attest.Chains = []ChainConfig{{
		ChainID:   1,
		Contract:  "not-an-address",
		SchemaUID: "0x" + "ab" + "0000000000000000000000000000000000000000000000000000000000000000",
	}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "chain_id must be positive")
	assert.Contains(t, msg, "change_threshold_percent")
	assert.Contains(t, msg, "is not a hex address")
	assert.Contains(t, msg, "schema_uid must be 0x-prefixed 32-byte hex")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Redis.Password)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
