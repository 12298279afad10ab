// Package config loads, validates, and hot-reloads the anyclaude
// configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// AuthMode enumerates the ways a backend's outbound credentials are attached.
type AuthMode string

const (
	AuthForward AuthMode = "forward" // forward incoming headers unchanged
	AuthAPIKey  AuthMode = "api_key" // attach x-api-key: <value>
	AuthBearer  AuthMode = "bearer"  // attach Authorization: Bearer <value>
)

// Backend is one configured upstream API endpoint.
type Backend struct {
	ID      string `toml:"id"`
	Label   string `toml:"label"`
	BaseURL string `toml:"base_url"`

	Auth BackendAuth `toml:"auth"`

	ReasoningCompat *ReasoningCompat `toml:"reasoning_compat"`
	ModelFamily     *ModelFamily     `toml:"model_family"`
	Pricing         *Pricing         `toml:"pricing"`
}

// BackendAuth declares how outbound credentials are attached for a backend.
type BackendAuth struct {
	Mode  AuthMode `toml:"mode"`
	Value string   `toml:"value"`
}

// ReasoningCompat flags that a backend needs reasoning-block compatibility
// handling and, optionally, a token budget for its reasoning/thinking mode.
type ReasoningCompat struct {
	Enabled     bool `toml:"enabled"`
	TokenBudget int  `toml:"token_budget"`
}

// ModelFamily remaps the guest's generic model family name to this
// backend's provider-specific model identifier.
type ModelFamily struct {
	Opus   string `toml:"opus"`
	Sonnet string `toml:"sonnet"`
	Haiku  string `toml:"haiku"`
}

// Pricing carries optional per-million token prices used for cost estimation.
type Pricing struct {
	InputPerMillion  float64 `toml:"input_per_million"`
	OutputPerMillion float64 `toml:"output_per_million"`
}

// Defaults holds the process-wide defaults for backend selection and the
// upstream HTTP client's timeouts/pool/retry behavior.
type Defaults struct {
	ActiveBackendID    string `toml:"active_backend_id"`
	TotalTimeoutS      int    `toml:"total_timeout_s"`
	ConnectTimeoutS    int    `toml:"connect_timeout_s"`
	IdleTimeoutS       int    `toml:"idle_timeout_s"`
	PoolIdleTimeoutS   int    `toml:"pool_idle_timeout_s"`
	PoolMaxIdlePerHost int    `toml:"pool_max_idle_per_host"`
	MaxRetries         int    `toml:"max_retries"`
	RetryBackoffBaseMs int    `toml:"retry_backoff_base_ms"`
}

// Proxy holds the reverse proxy's own listener configuration.
type Proxy struct {
	BindAddr string `toml:"bind_addr"`
	BaseURL  string `toml:"base_url"`
}

// Terminal holds settings forwarded to the PTY/front-end collaborator.
type Terminal struct {
	ScrollbackLines int `toml:"scrollback_lines"`
}

// Reasoning selects and configures the reasoning transformer variant.
type Reasoning struct {
	Mode      string           `toml:"mode"` // "strip" or "summarize"
	Summarize *SummarizeConfig `toml:"summarize"`
}

// SummarizeConfig configures the summarizer LLM call used by the summarize
// reasoning transformer variant on backend switch.
type SummarizeConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
}

// Rotation configures the debug logger's log file rotation.
type Rotation struct {
	Mode     string `toml:"mode"` // "size" or "daily"
	MaxBytes int64  `toml:"max_bytes"`
	MaxFiles int    `toml:"max_files"`
}

// Debug configures the debug logger plugin.
type Debug struct {
	Level            string    `toml:"level"`  // off, basic, verbose, full
	Format           string    `toml:"format"` // text or json
	Destination      string    `toml:"destination"` // stderr, file, both
	FilePath         string    `toml:"file_path"`
	BodyPreviewBytes int       `toml:"body_preview_bytes"`
	HeaderPreview    bool      `toml:"header_preview"`
	FullBody         bool      `toml:"full_body"`
	PrettyPrint      bool      `toml:"pretty_print"`
	Rotation         *Rotation `toml:"rotation"`
}

// SubAgent configures the sub-agent routing shim.
type SubAgent struct {
	TeammateBackendID string `toml:"teammate_backend_id"`
	Prefix            string `toml:"prefix"` // URL path prefix; subagent.DefaultPrefix if empty
}

// Config is the full, on-disk TOML configuration.
type Config struct {
	Defaults  Defaults   `toml:"defaults"`
	Proxy     Proxy      `toml:"proxy"`
	Terminal  Terminal   `toml:"terminal"`
	Reasoning Reasoning  `toml:"reasoning"`
	Debug     Debug      `toml:"debug"`
	SubAgent  SubAgent   `toml:"sub_agent"`
	Backends  []*Backend `toml:"backends"`
}

// BackendByID returns the backend with the given id, or nil.
func (c *Config) BackendByID(id string) *Backend {
	for _, b := range c.Backends {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Default returns a fully populated, valid default configuration: a single
// "direct" backend forwarding the guest's own Authorization header.
func Default() *Config {
	return &Config{
		Defaults: Defaults{
			ActiveBackendID:    "direct",
			TotalTimeoutS:      120,
			ConnectTimeoutS:    5,
			IdleTimeoutS:       60,
			PoolIdleTimeoutS:   90,
			PoolMaxIdlePerHost: 20,
			MaxRetries:         2,
			RetryBackoffBaseMs: 250,
		},
		Proxy: Proxy{
			BindAddr: "127.0.0.1:8787",
		},
		Terminal: Terminal{
			ScrollbackLines: 10000,
		},
		Reasoning: Reasoning{
			Mode: "strip",
		},
		Debug: Debug{
			Level:            "basic",
			Format:           "text",
			Destination:      "stderr",
			BodyPreviewBytes: 256,
		},
		Backends: []*Backend{
			{
				ID:      "direct",
				Label:   "Anthropic (direct)",
				BaseURL: "https://api.anthropic.com",
				Auth:    BackendAuth{Mode: AuthForward},
			},
		},
	}
}

// DefaultPath returns ~/.config/anyclaude/config.toml (or the equivalent via
// os.UserConfigDir on the current platform).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "anyclaude", "config.toml")
}

// ParseError reports a TOML syntax error with line/column.
type ParseError struct {
	Line, Col int
	Message   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config: parse error at line %d, column %d: %s", e.Line, e.Col, e.Message)
}

// ValidationError reports a semantic validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "config: " + e.Message }

// LoadFile reads, parses, and validates the configuration file at path. If
// the file does not exist, the default configuration is returned (not an
// error).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw TOML bytes (with environment variables expanded) into a
// validated Config. Unknown top-level keys are rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	cfg.Backends = nil // Parse must fully own backends; avoid merging with defaults

	meta, err := toml.Decode(expanded, cfg)
	if err != nil {
		if perr, ok := err.(toml.ParseError); ok {
			// Position.Start is a byte offset into the document; turn it
			// into a 1-based column on its line.
			line, col := perr.Position.Line, 0
			if start := perr.Position.Start; start >= 0 && start <= len(expanded) {
				col = start - strings.LastIndex(expanded[:start], "\n")
			}
			return nil, &ParseError{Line: line, Col: col, Message: perr.Error()}
		}
		return nil, &ParseError{Message: err.Error()}
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, &ValidationError{Message: "unknown fields: " + strings.Join(keys, ", ")}
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = Default().Backends
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config invariants: unique backend ids, the active
// backend must exist, summarize mode requires a populated subsection, and
// sub_agent.teammate_backend_id (if set) must reference an existing backend.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return &ValidationError{Message: "at least one backend must be configured"}
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return &ValidationError{Message: "backend id must not be empty"}
		}
		if seen[b.ID] {
			return &ValidationError{Message: fmt.Sprintf("duplicate backend id %q", b.ID)}
		}
		seen[b.ID] = true

		switch b.Auth.Mode {
		case AuthForward, AuthAPIKey, AuthBearer:
		default:
			return &ValidationError{Message: fmt.Sprintf("backend %q: invalid auth mode %q", b.ID, b.Auth.Mode)}
		}
	}

	if c.Defaults.ActiveBackendID == "" {
		return &ValidationError{Message: "defaults.active_backend_id is required"}
	}
	if !seen[c.Defaults.ActiveBackendID] {
		return &ValidationError{Message: fmt.Sprintf("defaults.active_backend_id %q does not reference a configured backend", c.Defaults.ActiveBackendID)}
	}

	switch c.Reasoning.Mode {
	case "", "strip":
	case "summarize":
		s := c.Reasoning.Summarize
		if s == nil || s.BaseURL == "" || s.Model == "" || s.MaxTokens <= 0 {
			return &ValidationError{Message: "reasoning.mode=summarize requires a fully populated summarize section (base_url, model, max_tokens)"}
		}
	default:
		return &ValidationError{Message: fmt.Sprintf("invalid reasoning.mode %q", c.Reasoning.Mode)}
	}

	if c.SubAgent.TeammateBackendID != "" && !seen[c.SubAgent.TeammateBackendID] {
		return &ValidationError{Message: fmt.Sprintf("sub_agent.teammate_backend_id %q does not reference a configured backend", c.SubAgent.TeammateBackendID)}
	}

	if c.Proxy.BindAddr == "" {
		return &ValidationError{Message: "proxy.bind_addr is required"}
	}

	return nil
}

// Save writes cfg to path as TOML, creating the parent directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}
