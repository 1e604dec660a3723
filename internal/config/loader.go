package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for fastmcp-gateway.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type without
		// search paths so ReadInConfig returns ConfigFileNotFoundError,
		// which callers treat as env-only configuration.
		viper.SetConfigName("fastmcp-gateway")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: GATEWAY_UPSTREAMS, GATEWAY_PORT, ...
	viper.SetEnvPrefix("GATEWAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindEnvKeys()
}

// findConfigFile searches standard locations for a fastmcp-gateway config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".fastmcp-gateway"),
		"/etc/fastmcp-gateway",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "fastmcp-gateway"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every config key for environment variable support.
// JSON-valued settings (upstreams, domain_descriptions, upstream_headers)
// arrive as single JSON strings and are decoded by UpstreamSpecs.
func bindEnvKeys() {
	_ = viper.BindEnv("name")
	_ = viper.BindEnv("host")
	_ = viper.BindEnv("port")
	// LOG_LEVEL is accepted unprefixed for container-platform conventions.
	_ = viper.BindEnv("log_level", "GATEWAY_LOG_LEVEL", "LOG_LEVEL")
	_ = viper.BindEnv("instructions")
	_ = viper.BindEnv("upstreams")
	_ = viper.BindEnv("domain_descriptions")
	_ = viper.BindEnv("upstream_headers")
	_ = viper.BindEnv("registry_auth_token")
	_ = viper.BindEnv("registration_token")
	_ = viper.BindEnv("refresh_interval")
	_ = viper.BindEnv("upstream_timeout")
	_ = viper.BindEnv("hooks")
	_ = viper.BindEnv("hook_cel_expr")
	_ = viper.BindEnv("hook_auth_header")
	_ = viper.BindEnv("tracing_enabled")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: pure environment variable configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded,
// or empty when running env-only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
