package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/screa/deti-coin-miner/pkg/coin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.ValidateCoordinator())

	target, err := cfg.TargetValue()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xAAD20250), target)

	tmpl, err := cfg.Template()
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.CounterWord())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"workers", func(c *Config) { c.Workers = 0 }, ErrInvalidWorkers},
		{"lanes", func(c *Config) { c.Lanes = -1 }, ErrInvalidLanes},
		{"chunk", func(c *Config) { c.ChunkSize = 0 }, ErrInvalidChunkSize},
		{"time limit", func(c *Config) { c.TimeLimit = -time.Second }, ErrInvalidTimeLimit},
		{"log interval", func(c *Config) { c.LogInterval = 0 }, ErrInvalidInterval},
		{"report interval", func(c *Config) { c.ReportInterval = 0 }, ErrInvalidInterval},
		{"target", func(c *Config) { c.Target = "0x1234567890" }, ErrInvalidTarget},
		{"tag", func(c *Config) { c.Tag = "short" }, coin.ErrTagLength},
		{"payload", func(c *Config) { c.Payload = "this payload is longer than it may be" }, coin.ErrPayloadTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateModes(t *testing.T) {
	cfg := NewConfig()
	assert.ErrorIs(t, cfg.ValidateWorker(), ErrNoCoordinatorURL)
	cfg.Coordinator = "ws://localhost:7420"
	assert.NoError(t, cfg.ValidateWorker())

	cfg.Listen = ""
	assert.ErrorIs(t, cfg.ValidateCoordinator(), ErrNoListenAddress)

	cfg = NewConfig()
	cfg.Target = "not hex"
	assert.ErrorIs(t, cfg.ValidateCoordinator(), ErrInvalidTarget)
}

func TestTargetValue(t *testing.T) {
	for in, want := range map[string]uint32{
		"0xAAD20250": 0xAAD20250,
		"aad20250":   0xAAD20250,
		" 0X1 ":      1,
		"65c89ef6":   0x65c89ef6,
	} {
		cfg := NewConfig()
		cfg.Target = in
		got, err := cfg.TargetValue()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
lanes: 8
payload: hello
time_limit: 90s
chunk_size: 5000
`), 0o644))

	cfg := NewConfig()
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 8, cfg.Lanes)
	assert.Equal(t, "hello", cfg.Payload)
	assert.Equal(t, 90*time.Second, cfg.TimeLimit)
	assert.Equal(t, uint64(5000), cfg.ChunkSize)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultTarget, cfg.Target)
	assert.Equal(t, 5*time.Second, cfg.LogInterval)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wrokers: 3\n"), 0o644))
	assert.Error(t, NewConfig().Load(path))
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.NoError(t, NewConfig().Load(path))
}

func TestLoadMissingFile(t *testing.T) {
	assert.Error(t, NewConfig().Load(filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestGetTargetDescription(t *testing.T) {
	cfg := NewConfig()
	cfg.Payload = "hi"
	assert.Equal(t, `signature 0xAAD20250 tag "DETI coin 2 " payload "hi"`, cfg.GetTargetDescription())
}
