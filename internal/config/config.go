package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// TLSConfig configures optional TLS termination on the HTTP listener.
type TLSConfig struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Cert   string `yaml:"cert" json:"cert"`
	Key    string `yaml:"key" json:"key"`
}

// GlobalModelMapping aliases an inbound model name to an upstream model,
// optionally scoped to a single provider hint.
type GlobalModelMapping struct {
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the mapping applies, defaulting to true when unset.
func (m GlobalModelMapping) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Config is the top-level server configuration, loaded from a single YAML
// file per spec.md §6. SDKConfig is embedded inline so its keys
// (api-keys, streaming, compression, proxy-url, ...) live at the top level
// of the same document rather than under a nested nested section.
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
	Debug bool  `yaml:"debug" json:"debug"`

	// LogFile, when set, rotates request/server logs through lumberjack
	// instead of stdout-only output.
	LogFile string `yaml:"log-file,omitempty" json:"log-file,omitempty"`

	TLS TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// Region is the AWS region the Kiro/CodeWhisperer upstream is reached in.
	Region string `yaml:"region" json:"region"`

	// KiroVersion, SystemVersion and NodeVersion are echoed in the upstream
	// request's client metadata headers, matching what the Kiro desktop
	// client would send for the account's provisioned version.
	KiroVersion   string `yaml:"kiro-version" json:"kiro-version"`
	SystemVersion string `yaml:"system-version" json:"system-version"`
	NodeVersion   string `yaml:"node-version" json:"node-version"`

	// MachineID is sent as the client machine identifier on upstream calls.
	MachineID string `yaml:"machine-id" json:"machine-id"`

	// CredentialsDir holds one credential file per pooled account; watched
	// for changes so new/removed accounts are picked up without a restart.
	CredentialsDir string `yaml:"credentials-dir" json:"credentials-dir"`

	// FailureCooldownSecs is how long an account is benched after a
	// rate-limited or rejected response before it re-enters rotation.
	FailureCooldownSecs int `yaml:"failure-cooldown-secs" json:"failure-cooldown-secs"`

	// MaxFailures is the consecutive-failure count at which an account is
	// marked exhausted rather than merely cooling down.
	MaxFailures int `yaml:"max-failures" json:"max-failures"`

	// CountTokensApiURL/Key/AuthType configure optional delegation of
	// /v1/messages/count_tokens to an external counting service.
	CountTokensAPIURL  string `yaml:"count-tokens-api-url,omitempty" json:"count-tokens-api-url,omitempty"`
	CountTokensAPIKey  string `yaml:"count-tokens-api-key,omitempty" json:"count-tokens-api-key,omitempty"`
	CountTokensAuthType string `yaml:"count-tokens-auth-type,omitempty" json:"count-tokens-auth-type,omitempty"`

	// GlobalModelMappings aliases inbound model names before routing,
	// consulted via LookupGlobalModelMapping.
	GlobalModelMappings []GlobalModelMapping `yaml:"global-model-mappings,omitempty" json:"global-model-mappings,omitempty"`

	SDKConfig `yaml:",inline" json:",inline"`
}

// LookupGlobalModelMapping returns the first enabled mapping matching model
// (and, if provider is non-empty, the mapping's provider restriction),
// matched case-insensitively. Returns "" if nothing matches, including on a
// nil receiver.
func (cfg *Config) LookupGlobalModelMapping(model string, provider string) string {
	if cfg == nil {
		return ""
	}
	model = strings.ToLower(strings.TrimSpace(model))
	provider = strings.ToLower(strings.TrimSpace(provider))
	for _, m := range cfg.GlobalModelMappings {
		if !m.IsEnabled() {
			continue
		}
		if strings.ToLower(m.From) != model {
			continue
		}
		if m.Provider != "" && provider != "" && strings.ToLower(m.Provider) != provider {
			continue
		}
		return m.To
	}
	return ""
}

// NormalizeHeaders trims header keys/values and drops any entry left empty
// on either side, returning nil rather than an empty map when nothing
// survives.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// NormalizeExcludedModels lowercases, trims, deduplicates and drops empty
// entries from a model exclusion list, preserving first-occurrence order.
// Returns nil for an empty or all-empty input.
func NormalizeExcludedModels(models []string) []string {
	if len(models) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// defaultHost and defaultPort are the documented bind defaults for a
// zero-config run, per spec.md §6.
const (
	defaultHost = "127.0.0.1"
	defaultPort = 8080
)

// applyDefaults fills in the documented zero-value defaults for fields a
// config file is allowed to omit entirely.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigOptional behaves like LoadConfig, except that when optional is
// true a missing file or a YAML parse error yields an empty Config instead
// of an error, so the server can start from defaults/environment alone.
func LoadConfigOptional(path string, optional bool) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if optional {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	return nil, err
}

// ValidateConfig checks cfg for hard errors and returns soft warnings for
// conditions that are allowed but likely unintended.
func ValidateConfig(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config: nil config")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: port %d out of range 1-65535", cfg.Port)
	}

	var warnings []string
	if len(cfg.APIKeys) == 0 {
		warnings = append(warnings, "no api-keys configured: the proxy will accept requests from any client")
	}
	if cfg.CredentialsDir == "" {
		warnings = append(warnings, "credentials-dir is empty: no accounts will be loaded into the pool")
	}
	if cfg.TLS.Enable && (cfg.TLS.Cert == "" || cfg.TLS.Key == "") {
		warnings = append(warnings, "tls.enable is true but cert/key path is missing")
	}
	sort.Strings(warnings)
	return warnings, nil
}
