// Package config provides configuration types for the gateway.
//
// The gateway is configured primarily through GATEWAY_* environment
// variables, matching its deployment model as a twelve-factor sidecar.
// A fastmcp-gateway.yaml file is supported for local development; any
// environment variable overrides the file.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	// Name is the gateway's server name in the MCP handshake.
	// Defaults to "fastmcp-gateway".
	Name string `yaml:"name" mapstructure:"name"`

	// Host is the listen address. Defaults to "0.0.0.0".
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port. Defaults to 8000.
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Instructions overrides the dynamically generated handshake
	// instructions. When empty, instructions are built from the registry.
	Instructions string `yaml:"instructions" mapstructure:"instructions"`

	// Upstreams is a JSON object mapping domain names to upstream MCP
	// server URLs, e.g. {"apollo": "http://apollo:9000/mcp"}.
	Upstreams string `yaml:"upstreams" mapstructure:"upstreams" validate:"omitempty,json"`

	// DomainDescriptions is a JSON object mapping domain names to
	// human-readable descriptions shown in discovery responses.
	DomainDescriptions string `yaml:"domain_descriptions" mapstructure:"domain_descriptions" validate:"omitempty,json"`

	// UpstreamHeaders is a JSON object mapping domain names to static
	// header maps attached to every request to that upstream.
	UpstreamHeaders string `yaml:"upstream_headers" mapstructure:"upstream_headers" validate:"omitempty,json"`

	// RegistryAuthToken is a bearer token attached to discovery requests
	// against every upstream.
	RegistryAuthToken string `yaml:"registry_auth_token" mapstructure:"registry_auth_token"`

	// RegistrationToken protects the runtime registration API. When empty,
	// the registration API is disabled.
	RegistrationToken string `yaml:"registration_token" mapstructure:"registration_token"`

	// RefreshInterval is the background refresh period in seconds.
	// 0 disables background refresh.
	RefreshInterval int `yaml:"refresh_interval" mapstructure:"refresh_interval" validate:"min=0"`

	// UpstreamTimeout is the per-call upstream timeout in seconds.
	// Defaults to 30.
	UpstreamTimeout int `yaml:"upstream_timeout" mapstructure:"upstream_timeout" validate:"min=0"`

	// Hooks is a comma-separated list of hook factory names to install,
	// in order, e.g. "header-auth,cel-policy".
	Hooks string `yaml:"hooks" mapstructure:"hooks"`

	// HookCELExpr is the CEL policy expression for the cel-policy hook.
	HookCELExpr string `yaml:"hook_cel_expr" mapstructure:"hook_cel_expr"`

	// HookAuthHeader is the identity header for the header-auth hook.
	// Defaults to "X-User-Id".
	HookAuthHeader string `yaml:"hook_auth_header" mapstructure:"hook_auth_header"`

	// TracingEnabled turns on stdout trace export.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// UpstreamSpec is one decoded upstream entry, merged from the Upstreams,
// DomainDescriptions, and UpstreamHeaders maps.
type UpstreamSpec struct {
	Domain      string
	URL         string
	Description string
	Headers     map[string]string
}

// domainNamePattern restricts domain names to prefix-safe identifiers.
// Domains become tool name prefixes, so they share the tool alphabet.
var domainNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "fastmcp-gateway"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = 30
	}
	if c.HookAuthHeader == "" {
		c.HookAuthHeader = "X-User-Id"
	}
}

// ListenAddr returns the host:port listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamTimeoutDuration returns the upstream timeout as a duration.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Second
}

// RefreshIntervalDuration returns the refresh interval as a duration.
// Zero means background refresh is disabled.
func (c *Config) RefreshIntervalDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// HookNames returns the configured hook factory names in order.
func (c *Config) HookNames() []string {
	if strings.TrimSpace(c.Hooks) == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(c.Hooks, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// UpstreamSpecs decodes the three upstream JSON maps into per-domain specs,
// sorted by domain. A description or header entry for an unknown domain is
// an error; it is always a typo.
func (c *Config) UpstreamSpecs() ([]UpstreamSpec, error) {
	urls := map[string]string{}
	if c.Upstreams != "" {
		if err := json.Unmarshal([]byte(c.Upstreams), &urls); err != nil {
			return nil, fmt.Errorf("upstreams must be a JSON object of domain to URL: %w", err)
		}
	}

	descriptions := map[string]string{}
	if c.DomainDescriptions != "" {
		if err := json.Unmarshal([]byte(c.DomainDescriptions), &descriptions); err != nil {
			return nil, fmt.Errorf("domain_descriptions must be a JSON object of domain to text: %w", err)
		}
	}

	headers := map[string]map[string]string{}
	if c.UpstreamHeaders != "" {
		if err := json.Unmarshal([]byte(c.UpstreamHeaders), &headers); err != nil {
			return nil, fmt.Errorf("upstream_headers must be a JSON object of domain to header map: %w", err)
		}
	}

	for domain := range descriptions {
		if _, ok := urls[domain]; !ok {
			return nil, fmt.Errorf("domain_descriptions references unknown domain %q", domain)
		}
	}
	for domain := range headers {
		if _, ok := urls[domain]; !ok {
			return nil, fmt.Errorf("upstream_headers references unknown domain %q", domain)
		}
	}

	specs := make([]UpstreamSpec, 0, len(urls))
	for domain, rawURL := range urls {
		if err := ValidateDomainName(domain); err != nil {
			return nil, err
		}
		if err := ValidateUpstreamURL(rawURL); err != nil {
			return nil, fmt.Errorf("upstream %q: %w", domain, err)
		}
		specs = append(specs, UpstreamSpec{
			Domain:      domain,
			URL:         rawURL,
			Description: descriptions[domain],
			Headers:     headers[domain],
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Domain < specs[j].Domain })
	return specs, nil
}

// ValidateDomainName checks that a domain name is a prefix-safe identifier.
// Shared with the registration API.
func ValidateDomainName(domain string) error {
	if !domainNamePattern.MatchString(domain) {
		return fmt.Errorf("invalid domain name %q: must match %s", domain, domainNamePattern)
	}
	return nil
}

// ValidateUpstreamURL checks that a URL is an absolute http or https URL
// with a host. Shared with the registration API.
func ValidateUpstreamURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host")
	}
	return nil
}
