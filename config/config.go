// Package config loads and validates memory-mcp configuration.
//
// Configuration is read from mcpconfig.toml (or a YAML file with the same
// layout), then overridden by environment variables, then validated. Missing
// keys keep the defaults from Default.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zhubert/memory-mcp/paths"
)

// Embedding modes and providers.
const (
	EmbeddingModeHelixDB = "helixdb" // HelixDB embeds server side via Embed()
	EmbeddingModeMCP     = "mcp"     // this server fetches embeddings itself

	EmbeddingProviderTCP = "tcp"
)

var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("config: invalid configuration")
	// ErrNoTransport is returned when stdio, TCP and HTTP are all disabled.
	ErrNoTransport = fmt.Errorf("%w: no transport enabled", ErrInvalid)
	// ErrInvalidAddress is returned for an unusable bind host or port.
	ErrInvalidAddress = fmt.Errorf("%w: invalid bind address", ErrInvalid)
	// ErrUnsupportedFormat is returned for config files that are neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)

// Config holds the full server configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Helix     HelixConfig     `toml:"helix" yaml:"helix"`
	Embedding EmbeddingConfig `toml:"embedding" yaml:"embedding"`

	filePath string
}

// ServerConfig selects transports and tunes the TCP listener.
type ServerConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`

	// EnableStdio is tri-state: nil means "on unless a socket transport is on".
	EnableStdio *bool `toml:"enable_stdio" yaml:"enable_stdio" env:"MEMORY_MCP_ENABLE_STDIO"`
	EnableTCP   bool  `toml:"enable_tcp" yaml:"enable_tcp" env:"MEMORY_MCP_ENABLE_TCP"`
	EnableHTTP  bool  `toml:"enable_http" yaml:"enable_http" env:"MEMORY_MCP_ENABLE_HTTP"`

	TCPHost  string `toml:"tcp_host" yaml:"tcp_host" env:"MEMORY_MCP_TCP_HOST"`
	TCPPort  int    `toml:"tcp_port" yaml:"tcp_port" env:"MEMORY_MCP_TCP_PORT"`
	HTTPHost string `toml:"http_host" yaml:"http_host" env:"MEMORY_MCP_HTTP_HOST"`
	HTTPPort int    `toml:"http_port" yaml:"http_port" env:"MEMORY_MCP_HTTP_PORT"`

	TCPNoDelay           bool `toml:"tcp_nodelay" yaml:"tcp_nodelay" env:"MEMORY_MCP_TCP_NODELAY"`
	TCPKeepalive         bool `toml:"tcp_keepalive" yaml:"tcp_keepalive" env:"MEMORY_MCP_TCP_KEEPALIVE"`
	TCPKeepaliveIdle     int  `toml:"tcp_keepalive_idle" yaml:"tcp_keepalive_idle"`         // seconds
	TCPKeepaliveInterval int  `toml:"tcp_keepalive_interval" yaml:"tcp_keepalive_interval"` // seconds
	TCPKeepaliveRetries  int  `toml:"tcp_keepalive_retries" yaml:"tcp_keepalive_retries"`
}

// HelixConfig locates the graph database HTTP endpoint.
type HelixConfig struct {
	Endpoint string `toml:"endpoint" yaml:"endpoint" env:"HELIX_ENDPOINT"`
	Port     int    `toml:"port" yaml:"port" env:"HELIX_PORT"`
}

// EmbeddingConfig configures where embeddings come from.
type EmbeddingConfig struct {
	Mode               string `toml:"mode" yaml:"mode" env:"MEMORY_MCP_EMBEDDING_MODE"`
	Provider           string `toml:"provider" yaml:"provider" env:"MEMORY_MCP_EMBEDDING_PROVIDER"`
	Model              string `toml:"model" yaml:"model"`
	TCPAddress         string `toml:"tcp_address" yaml:"tcp_address" env:"MEMORY_MCP_EMBEDDING_ADDRESS"`
	TCPTimeoutSecs     int    `toml:"tcp_timeout_secs" yaml:"tcp_timeout_secs"`
	ExpectedDimensions int    `toml:"expected_dimensions" yaml:"expected_dimensions"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:                 "AI Memory Layer MCP Server",
			Version:              "0.1.0",
			TCPHost:              "127.0.0.1",
			TCPPort:              8766,
			HTTPHost:             "127.0.0.1",
			HTTPPort:             9527,
			TCPNoDelay:           true,
			TCPKeepalive:         true,
			TCPKeepaliveIdle:     60,
			TCPKeepaliveInterval: 10,
			TCPKeepaliveRetries:  3,
		},
		Helix: HelixConfig{
			Endpoint: "127.0.0.1",
			Port:     6969,
		},
		Embedding: EmbeddingConfig{
			Mode:               EmbeddingModeHelixDB,
			TCPTimeoutSecs:     30,
			ExpectedDimensions: 384,
		},
	}
}

// Load reads the file at path on top of the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.filePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault returns defaults with environment overrides applied.
func LoadDefault() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve finds the config file to use. An explicit path must exist.
// Otherwise ./mcpconfig.toml and then the user config directory are tried.
// An empty result means "use defaults".
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	if _, err := os.Stat(paths.ConfigFileName); err == nil {
		return paths.ConfigFileName, nil
	}

	userPath, err := paths.ConfigFilePath()
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(userPath); err == nil {
		return userPath, nil
	}
	return "", nil
}

// LoadResolved loads the file chosen by Resolve, or defaults when none exists.
func LoadResolved(explicit string) (*Config, error) {
	path, err := Resolve(explicit)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return LoadDefault()
	}
	return Load(path)
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("config: parse env: %w", err)
	}
	return nil
}

// FilePath returns the file the config was loaded from, or "" for defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	s := c.Server
	if !s.StdioEnabled() && !s.EnableTCP && !s.EnableHTTP {
		return ErrNoTransport
	}
	if s.EnableTCP {
		if err := validateBind(s.TCPHost, s.TCPPort); err != nil {
			return fmt.Errorf("tcp: %w", err)
		}
		if s.TCPKeepalive && (s.TCPKeepaliveIdle <= 0 || s.TCPKeepaliveInterval <= 0 || s.TCPKeepaliveRetries <= 0) {
			return fmt.Errorf("%w: tcp keepalive idle, interval and retries must be positive", ErrInvalid)
		}
	}
	if s.EnableHTTP {
		if err := validateBind(s.HTTPHost, s.HTTPPort); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	if c.Helix.Endpoint == "" {
		return fmt.Errorf("%w: helix endpoint is empty", ErrInvalid)
	}
	if c.Helix.Port <= 0 || c.Helix.Port > 65535 {
		return fmt.Errorf("%w: helix port %d out of range", ErrInvalid, c.Helix.Port)
	}

	e := c.Embedding
	switch e.Mode {
	case EmbeddingModeHelixDB:
	case EmbeddingModeMCP:
		if e.Provider != EmbeddingProviderTCP {
			return fmt.Errorf("%w: unsupported embedding provider %q", ErrInvalid, e.Provider)
		}
		if e.TCPAddress == "" {
			return fmt.Errorf("%w: embedding tcp_address is required for provider tcp", ErrInvalid)
		}
		if _, _, err := net.SplitHostPort(e.TCPAddress); err != nil {
			return fmt.Errorf("%w: embedding tcp_address %q: %v", ErrInvalidAddress, e.TCPAddress, err)
		}
	default:
		return fmt.Errorf("%w: unknown embedding mode %q", ErrInvalid, e.Mode)
	}
	if e.TCPTimeoutSecs <= 0 {
		return fmt.Errorf("%w: embedding tcp_timeout_secs must be positive", ErrInvalid)
	}
	if e.ExpectedDimensions <= 0 {
		return fmt.Errorf("%w: embedding expected_dimensions must be positive", ErrInvalid)
	}
	return nil
}

func validateBind(host string, port int) error {
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}
	return nil
}

// StdioEnabled reports whether the stdio transport runs. Without an explicit
// setting stdio is the fallback for when no socket transport is configured.
func (s ServerConfig) StdioEnabled() bool {
	if s.EnableStdio != nil {
		return *s.EnableStdio
	}
	return !s.EnableTCP && !s.EnableHTTP
}

// TCPAddr returns the host:port the TCP transport binds.
func (s ServerConfig) TCPAddr() string {
	return net.JoinHostPort(s.TCPHost, strconv.Itoa(s.TCPPort))
}

// HTTPAddr returns the host:port the HTTP transport binds.
func (s ServerConfig) HTTPAddr() string {
	return net.JoinHostPort(s.HTTPHost, strconv.Itoa(s.HTTPPort))
}

// KeepaliveIdle is the idle time before the first keepalive probe.
func (s ServerConfig) KeepaliveIdle() time.Duration {
	return time.Duration(s.TCPKeepaliveIdle) * time.Second
}

// KeepaliveInterval is the time between keepalive probes.
func (s ServerConfig) KeepaliveInterval() time.Duration {
	return time.Duration(s.TCPKeepaliveInterval) * time.Second
}

// BaseURL returns the HelixDB HTTP base URL.
func (h HelixConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(h.Endpoint, strconv.Itoa(h.Port))
}

// Timeout bounds one embedding round trip.
func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TCPTimeoutSecs) * time.Second
}

// UsesTCPEmbeddings reports whether this server talks to the embedding service.
func (e EmbeddingConfig) UsesTCPEmbeddings() bool {
	return e.Mode == EmbeddingModeMCP && e.Provider == EmbeddingProviderTCP
}
