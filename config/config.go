// Package config loads ledger server settings from a YAML file or CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr       = ":8080"
	defaultWALDir           = "./wal/trades"
	defaultSegmentThreshold = 1000
	defaultLogLevel         = "info"
	defaultLogEncoding      = "json"
	defaultEventBuffer      = 256
	defaultHeartbeat        = 30 * time.Second
	defaultTLSCacheDir      = "cert-cache"
)

// Config is the runtime configuration of the ledger server.
type Config struct {
	ListenAddr        string
	WALDir            string
	SegmentThreshold  int
	LogLevel          string
	LogEncoding       string
	CORSOrigins       []string
	RequireSignatures bool
	EventBuffer       int
	StreamHeartbeat   time.Duration
	// TLSDomains enables ACME certificates for these hosts; empty serves plain HTTP.
	TLSDomains  []string
	TLSCacheDir string
	// Setup runs the interactive wizard instead of the server.
	Setup bool
	// Path is the YAML file the config was read from, if any.
	Path string
}

// ConfigTmp is the YAML representation of Config.
type ConfigTmp struct {
	ListenAddr        string        `yaml:"listen_addr"`
	WALDir            string        `yaml:"wal_dir"`
	SegmentThreshold  int           `yaml:"segment_threshold,omitempty"`
	LogLevel          string        `yaml:"log_level,omitempty"`
	LogEncoding       string        `yaml:"log_encoding,omitempty"`
	CORSOrigins       []string      `yaml:"cors_origins,omitempty"`
	RequireSignatures bool          `yaml:"require_signatures"`
	EventBuffer       int           `yaml:"event_buffer,omitempty"`
	StreamHeartbeat   time.Duration `yaml:"stream_heartbeat,omitempty"`
	TLSDomains        []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir       string        `yaml:"tls_cache_dir,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:       defaultListenAddr,
		WALDir:           defaultWALDir,
		SegmentThreshold: defaultSegmentThreshold,
		LogLevel:         defaultLogLevel,
		LogEncoding:      defaultLogEncoding,
		EventBuffer:      defaultEventBuffer,
		StreamHeartbeat:  defaultHeartbeat,
		TLSCacheDir:      defaultTLSCacheDir,
	}
}

// Get parses os.Args: `--config path.yaml` loads a file, otherwise CLI flags apply.
func Get() (Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse reads the configuration from args using fs.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	def := Default()

	path := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the interactive configuration wizard")
	addr := fs.String("addr", def.ListenAddr, "http listen address")
	walDir := fs.String("waldir", def.WALDir, "directory of the trade log")
	segment := fs.Int("segmentthreshold", def.SegmentThreshold, "trades per WAL segment")
	level := fs.String("loglevel", def.LogLevel, "log level: debug, info, warn, error")
	encoding := fs.String("logencoding", def.LogEncoding, "log encoding: json or console")
	origins := fs.String("corsorigins", "", "comma separated list of allowed CORS origins")
	signatures := fs.Bool("requiresignatures", false, "require owner signatures on submitted trades")
	buffer := fs.Int("eventbuffer", def.EventBuffer, "per-subscriber event buffer")
	heartbeat := fs.Duration("heartbeat", def.StreamHeartbeat, "event stream heartbeat interval")
	tlsDomains := fs.String("tlsdomains", "", "comma separated hosts to obtain ACME certificates for")
	tlsCache := fs.String("tlscachedir", def.TLSCacheDir, "directory for cached ACME certificates")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path != "" {
		cfg, err := getYaml(*path)
		if err != nil {
			return Config{}, err
		}
		cfg.Setup = *setup
		return cfg, nil
	}

	cfg := Config{
		ListenAddr:        *addr,
		WALDir:            *walDir,
		SegmentThreshold:  *segment,
		LogLevel:          *level,
		LogEncoding:       *encoding,
		CORSOrigins:       splitList(*origins),
		RequireSignatures: *signatures,
		EventBuffer:       *buffer,
		StreamHeartbeat:   *heartbeat,
		TLSDomains:        splitList(*tlsDomains),
		TLSCacheDir:       *tlsCache,
		Setup:             *setup,
	}

	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.WALDir == "" {
		return errors.New("wal dir is required")
	}
	if c.SegmentThreshold <= 0 {
		return fmt.Errorf("invalid segment threshold %d, must be positive", c.SegmentThreshold)
	}
	switch c.LogEncoding {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding %q, expected json or console", c.LogEncoding)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("invalid event buffer %d, must be positive", c.EventBuffer)
	}
	if c.StreamHeartbeat <= 0 {
		return fmt.Errorf("invalid stream heartbeat %s, must be positive", c.StreamHeartbeat)
	}
	if len(c.TLSDomains) > 0 && c.TLSCacheDir == "" {
		return errors.New("tls cache dir is required when tls domains are set")
	}

	return nil
}

// ToYAML converts the config back to its file representation.
func (c Config) ToYAML() ConfigTmp {
	return ConfigTmp{
		ListenAddr:        c.ListenAddr,
		WALDir:            c.WALDir,
		SegmentThreshold:  c.SegmentThreshold,
		LogLevel:          c.LogLevel,
		LogEncoding:       c.LogEncoding,
		CORSOrigins:       c.CORSOrigins,
		RequireSignatures: c.RequireSignatures,
		EventBuffer:       c.EventBuffer,
		StreamHeartbeat:   c.StreamHeartbeat,
		TLSDomains:        c.TLSDomains,
		TLSCacheDir:       c.TLSCacheDir,
	}
}

// Save writes the config to path as YAML.
func Save(path string, c Config) error {
	payload, err := yaml.Marshal(c.ToYAML())
	if err != nil {
		return errors.Wrap(err, "encode config")
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return errors.Wrap(err, "write config")
	}

	return nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml config")
	}

	cfg := Default()
	cfg.Path = path
	cfg.RequireSignatures = tmp.RequireSignatures
	cfg.CORSOrigins = tmp.CORSOrigins
	cfg.TLSDomains = tmp.TLSDomains

	if tmp.ListenAddr != "" {
		cfg.ListenAddr = tmp.ListenAddr
	}
	if tmp.WALDir != "" {
		cfg.WALDir = tmp.WALDir
	}
	if tmp.SegmentThreshold != 0 {
		cfg.SegmentThreshold = tmp.SegmentThreshold
	}
	if tmp.LogLevel != "" {
		cfg.LogLevel = tmp.LogLevel
	}
	if tmp.LogEncoding != "" {
		cfg.LogEncoding = tmp.LogEncoding
	}
	if tmp.EventBuffer != 0 {
		cfg.EventBuffer = tmp.EventBuffer
	}
	if tmp.StreamHeartbeat != 0 {
		cfg.StreamHeartbeat = tmp.StreamHeartbeat
	}
	if tmp.TLSCacheDir != "" {
		cfg.TLSCacheDir = tmp.TLSCacheDir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
