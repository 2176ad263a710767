package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/screa/deti-coin-miner/internal/sha1lane"
	"github.com/screa/deti-coin-miner/pkg/coin"
	"gopkg.in/yaml.v3"
)

// DefaultChunkSize is the number of counters handed out per work lease
const DefaultChunkSize = 100_000_000

// DefaultTarget is the signature a DETI coin digest starts with
const DefaultTarget = "0xAAD20250"

// Errors
var (
	ErrInvalidWorkers   = errors.New("workers must be at least 1")
	ErrInvalidLanes     = errors.New("lanes must be at least 1")
	ErrInvalidChunkSize = errors.New("chunk size must be at least 1")
	ErrInvalidTarget    = errors.New("target must be a 32-bit hex value")
	ErrInvalidTimeLimit = errors.New("time limit must not be negative")
	ErrInvalidInterval  = errors.New("log and report intervals must be positive")
	ErrNoCoordinatorURL = errors.New("worker mode needs --coordinator")
	ErrNoListenAddress  = errors.New("coordinator mode needs --listen")
)

// Config holds the application configuration
type Config struct {
	Workers   int    `yaml:"workers"`
	Lanes     int    `yaml:"lanes"`
	ChunkSize uint64 `yaml:"chunk_size"`
	Tag       string `yaml:"tag"`
	Payload   string `yaml:"payload"`
	Target    string `yaml:"target"`

	TimeLimit      time.Duration `yaml:"time_limit"`
	LogInterval    time.Duration `yaml:"log_interval"`
	ReportInterval time.Duration `yaml:"report_interval"`

	VaultPath string `yaml:"vault"`
	LogFile   string `yaml:"log_file"`
	Verbose   bool   `yaml:"verbose"`

	Listen      string `yaml:"listen"`
	Coordinator string `yaml:"coordinator"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Workers:        runtime.NumCPU(),
		Lanes:          sha1lane.DefaultLanes(),
		ChunkSize:      DefaultChunkSize,
		Tag:            string(coin.DefaultTag[:]),
		Target:         DefaultTarget,
		LogInterval:    5 * time.Second,
		ReportInterval: 2 * time.Second,
		VaultPath:      "deti_coins_vault.txt",
		Listen:         ":7420",
	}
}

// Load overlays the yaml file at path onto the configuration. Keys missing
// from the file keep their current values.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration for a local or worker run
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return ErrInvalidWorkers
	}
	if c.Lanes < 1 {
		return ErrInvalidLanes
	}
	if c.ChunkSize < 1 {
		return ErrInvalidChunkSize
	}
	if c.TimeLimit < 0 {
		return ErrInvalidTimeLimit
	}
	if c.LogInterval <= 0 || c.ReportInterval <= 0 {
		return ErrInvalidInterval
	}
	if _, err := c.TargetValue(); err != nil {
		return err
	}
	if _, err := c.Template(); err != nil {
		return err
	}
	return nil
}

// ValidateWorker checks the settings a remote worker process needs
func (c *Config) ValidateWorker() error {
	if c.Coordinator == "" {
		return ErrNoCoordinatorURL
	}
	return c.Validate()
}

// ValidateCoordinator checks the settings a coordinator process needs
func (c *Config) ValidateCoordinator() error {
	if c.Listen == "" {
		return ErrNoListenAddress
	}
	if c.ChunkSize < 1 {
		return ErrInvalidChunkSize
	}
	if c.TimeLimit < 0 {
		return ErrInvalidTimeLimit
	}
	if c.LogInterval <= 0 {
		return ErrInvalidInterval
	}
	if _, err := c.TargetValue(); err != nil {
		return err
	}
	return nil
}

// TargetValue parses the target signature
func (c *Config) TargetValue() (uint32, error) {
	s := strings.TrimSpace(c.Target)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, c.Target)
	}
	return uint32(v), nil
}

// Template builds the candidate template from tag and payload
func (c *Config) Template() (*coin.Template, error) {
	tag, err := coin.ParseTag(c.Tag)
	if err != nil {
		return nil, err
	}
	return coin.NewTemplate(tag, []byte(c.Payload))
}

// GetTargetDescription returns a human-readable description of the search
func (c *Config) GetTargetDescription() string {
	desc := "signature " + c.Target + " tag " + strconv.Quote(c.Tag)
	if c.Payload != "" {
		desc += " payload " + strconv.Quote(c.Payload)
	}
	return desc
}
