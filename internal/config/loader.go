package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chainscope/txgate/internal/waf"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Load reads, substitutes and parses the configuration file at path,
// unmarshaling over the defaults so absent sections keep them.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	return parse(data)
}

// LoadFromReader parses configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return parse(data)
}

func parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} with environment
// variable values. $$ escapes a literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// rulesDocument is the schema of a standalone WAF rules file.
type rulesDocument struct {
	Rules []waf.Rule `yaml:"rules"`
}

// LoadRules reads a standalone WAF rules file. The file holds either a
// top-level `rules:` list or a bare list of rules.
func LoadRules(path string) ([]waf.Rule, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	content := substituteEnvVars(string(data))

	var doc rulesDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err == nil && len(doc.Rules) > 0 {
		return doc.Rules, nil
	}

	var bare []waf.Rule
	if err := yaml.Unmarshal([]byte(content), &bare); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return bare, nil
}
