// Package webapi implements crm.Store on top of an OData v4 Web API endpoint
// authenticated with OAuth2 client credentials.
package webapi

import (
	"fmt"
	"net/url"
	"strings"
)

// Config contains configuration for one Web API store instance.
type Config struct {
	URL          string `hcl:"url"`                    // Instance root (e.g., "https://contoso.crm.dynamics.com")
	TenantID     string `hcl:"tenant_id,optional"`     // Directory tenant used for the token endpoint
	ClientID     string `hcl:"client_id,optional"`     // Application (client) id
	ClientSecret string `hcl:"client_secret,optional"` // Application secret
	Authority    string `hcl:"authority,optional"`     // Token authority (default: "https://login.microsoftonline.com")
	TokenURL     string `hcl:"token_url,optional"`     // Overrides the token endpoint derived from authority and tenant
	APIVersion   string `hcl:"api_version,optional"`   // Web API version (default: "9.2")

	TimeoutSeconds     int `hcl:"timeout_seconds,optional"`      // Per-request timeout (default: 120)
	MaxThrottleRetries int `hcl:"max_throttle_retries,optional"` // Retries on HTTP 429 (default: 3, -1 disables)

	// EntitySets overrides the entity set name derived from an entity's
	// logical name.
	EntitySets map[string]string `hcl:"entity_sets,optional"`

	// FilterPaths maps attributes that are not Web API columns to the
	// property path used in $filter (default: createdbyname is filtered as
	// createdby/fullname).
	FilterPaths map[string]string `hcl:"filter_paths,optional"`

	// EntityNameAttributes are written as entity logical names. A numeric
	// type code set on one of them is sent as the matching logical name
	// (default: associatedentitytypecode).
	EntityNameAttributes []string `hcl:"entity_name_attributes,optional"`
}

// Validate validates the Web API configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("invalid url %q: scheme must be http or https", c.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url %q: host is required", c.URL)
	}
	return nil
}

// HasCredentials reports whether client-credential authentication is configured.
func (c *Config) HasCredentials() bool {
	return c.ClientID != "" && c.ClientSecret != "" && (c.TenantID != "" || c.TokenURL != "")
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	c.URL = strings.TrimRight(c.URL, "/")
	if c.Authority == "" {
		c.Authority = "https://login.microsoftonline.com"
	}
	if c.APIVersion == "" {
		c.APIVersion = "9.2"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
	if c.MaxThrottleRetries == 0 {
		c.MaxThrottleRetries = 3
	}
	if c.FilterPaths == nil {
		c.FilterPaths = map[string]string{"createdbyname": "createdby/fullname"}
	}
	if c.EntityNameAttributes == nil {
		c.EntityNameAttributes = []string{"associatedentitytypecode"}
	}
	if c.TokenURL == "" && c.TenantID != "" {
		c.TokenURL = fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(c.Authority, "/"), c.TenantID)
	}
}

// BaseURL returns the Web API root, e.g. "https://contoso.crm.dynamics.com/api/data/v9.2/".
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s/api/data/v%s/", strings.TrimRight(c.URL, "/"), c.APIVersion)
}

// Scope returns the OAuth2 scope granting access to the instance.
func (c *Config) Scope() string {
	return strings.TrimRight(c.URL, "/") + "/.default"
}

// EntitySet returns the entity set (collection) name for an entity.
func (c *Config) EntitySet(entity string) string {
	if set, ok := c.EntitySets[entity]; ok {
		return set
	}
	switch {
	case strings.HasSuffix(entity, "y") && !strings.HasSuffix(entity, "ey"):
		return strings.TrimSuffix(entity, "y") + "ies"
	case strings.HasSuffix(entity, "s"), strings.HasSuffix(entity, "x"):
		return entity + "es"
	default:
		return entity + "s"
	}
}
