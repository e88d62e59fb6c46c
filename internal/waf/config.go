// Package waf scores requests against attack-pattern rules and maintains a
// time-boxed ban list for abusive clients.
package waf

import (
	"fmt"
	"regexp"
	"time"
)

// Rule categories.
const (
	CategorySQLInjection      = "sql_injection"
	CategoryXSS               = "xss"
	CategoryPathTraversal     = "path_traversal"
	CategoryTemplateInjection = "template_injection"
	CategoryGeneric           = "generic"
)

// Modes.
const (
	// ModeBlock enforces ban decisions.
	ModeBlock = "block"

	// ModeShadow evaluates and logs but never blocks.
	ModeShadow = "shadow"
)

// Rule is a single scoring pattern.
type Rule struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Weight   int    `yaml:"weight"`
}

// Config holds the WAF rule set and thresholds.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"`

	// Rules are the scoring patterns. Empty means DefaultRules().
	Rules []Rule `yaml:"rules"`

	// BanThreshold is the cumulative score within the scoring window that
	// promotes a client to the ban list.
	BanThreshold int `yaml:"banThreshold"`

	// GreyThreshold is the per-request score that marks a client as
	// suspicious; grey clients carry a score handicap on later requests.
	GreyThreshold int `yaml:"greyThreshold"`

	// ScoreWindow bounds cumulative scoring; scores reset when it elapses.
	ScoreWindow time.Duration `yaml:"scoreWindow"`

	// BanTTL is how long a ban entry lasts.
	BanTTL time.Duration `yaml:"banTTL"`

	// GreyTTL is how long a grey entry lasts.
	GreyTTL time.Duration `yaml:"greyTTL"`

	// BypassPaths are exact paths never evaluated.
	BypassPaths []string `yaml:"bypassPaths"`

	// AllowedMethods lists the HTTP methods accepted without penalty.
	AllowedMethods []string `yaml:"allowedMethods"`

	// MaxQueryLength penalizes oversized query strings.
	MaxQueryLength int `yaml:"maxQueryLength"`

	// MaxBodyScanBytes bounds how much of the request body is inspected.
	MaxBodyScanBytes int `yaml:"maxBodyScanBytes"`

	// BlockedUserAgents are case-insensitive substrings of hostile clients.
	BlockedUserAgents []string `yaml:"blockedUserAgents"`

	// MaxEventsPerIPPerMin throttles WAF event logging per client.
	MaxEventsPerIPPerMin int `yaml:"maxEventsPerIPPerMin"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		Mode:                 ModeBlock,
		Rules:                DefaultRules(),
		BanThreshold:         10,
		GreyThreshold:        4,
		ScoreWindow:          time.Minute,
		BanTTL:               15 * time.Minute,
		GreyTTL:              10 * time.Minute,
		BypassPaths:          []string{"/healthz", "/readyz", "/metrics", "/version"},
		AllowedMethods:       []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		MaxQueryLength:       2048,
		MaxBodyScanBytes:     8192,
		BlockedUserAgents:    []string{"sqlmap", "nikto", "masscan", "zgrab"},
		MaxEventsPerIPPerMin: 60,
	}
}

// DefaultRules returns the built-in scoring patterns.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `(?i)union[\s/*]+select`, Category: CategorySQLInjection, Weight: 8},
		{Pattern: `(?i)or\s+1\s*=\s*1`, Category: CategorySQLInjection, Weight: 8},
		{Pattern: `(?i);\s*(drop|delete|truncate|insert)\s`, Category: CategorySQLInjection, Weight: 8},
		{Pattern: `(?i)sleep\s*\(\s*\d+\s*\)`, Category: CategorySQLInjection, Weight: 6},
		{Pattern: `(?i)<\s*script`, Category: CategoryXSS, Weight: 6},
		{Pattern: `(?i)javascript\s*:`, Category: CategoryXSS, Weight: 6},
		{Pattern: `(?i)on(error|load|click)\s*=`, Category: CategoryXSS, Weight: 4},
		{Pattern: `\.\./`, Category: CategoryPathTraversal, Weight: 6},
		{Pattern: `(?i)%2e%2e(%2f|/)`, Category: CategoryPathTraversal, Weight: 6},
		{Pattern: `(?i)/etc/(passwd|shadow)`, Category: CategoryPathTraversal, Weight: 8},
		{Pattern: `\{\{.*\}\}`, Category: CategoryTemplateInjection, Weight: 5},
		{Pattern: `\$\{.*\}`, Category: CategoryTemplateInjection, Weight: 5},
		{Pattern: `(?i)/(wp-admin|wp-login|phpmyadmin|\.env|\.git)`, Category: CategoryGeneric, Weight: 4},
	}
}

// Validate normalizes out-of-range values and checks rule patterns compile.
func (c *Config) Validate() error {
	if c.Mode != ModeShadow {
		c.Mode = ModeBlock
	}
	if len(c.Rules) == 0 {
		c.Rules = DefaultRules()
	}
	if c.BanThreshold < 1 {
		c.BanThreshold = 10
	}
	if c.GreyThreshold < 1 || c.GreyThreshold > c.BanThreshold {
		c.GreyThreshold = (c.BanThreshold + 1) / 2
	}
	if c.ScoreWindow <= 0 {
		c.ScoreWindow = time.Minute
	}
	if c.BanTTL <= 0 {
		c.BanTTL = 15 * time.Minute
	}
	if c.GreyTTL <= 0 {
		c.GreyTTL = 10 * time.Minute
	}
	if len(c.AllowedMethods) == 0 {
		c.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if c.MaxQueryLength <= 0 {
		c.MaxQueryLength = 2048
	}
	if c.MaxBodyScanBytes <= 0 {
		c.MaxBodyScanBytes = 8192
	}
	if c.MaxEventsPerIPPerMin <= 0 {
		c.MaxEventsPerIPPerMin = 60
	}

	for i, rule := range c.Rules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("invalid waf rule %d (%s): %w", i, rule.Category, err)
		}
		if rule.Weight <= 0 {
			c.Rules[i].Weight = 1
		}
	}

	return nil
}

// IsBypassed reports whether the path skips WAF evaluation.
func (c *Config) IsBypassed(path string) bool {
	for _, p := range c.BypassPaths {
		if p == path {
			return true
		}
	}
	return false
}

// IsMethodAllowed reports whether the method carries no penalty.
func (c *Config) IsMethodAllowed(method string) bool {
	for _, m := range c.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}
