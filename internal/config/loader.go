package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR} and ${VAR:-default} references in the raw file.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a configuration file, expands environment references, and
// decodes the YAML into a Config. Unknown keys are rejected so a typo in
// a section name (privacy, circuit_breaker, health, backends, ...) fails
// loudly instead of silently falling back to defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, missing := expand(raw)
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: %s references undefined variables: %s",
			path, strings.Join(missing, ", "))
	}

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expand replaces ${VAR} and ${VAR:-default} references with environment
// values. References with neither an environment value nor a default are
// left in place and reported in missing, deduplicated in file order.
func expand(raw []byte) (out []byte, missing []string) {
	seen := make(map[string]struct{})

	out = envRef.ReplaceAllFunc(raw, func(ref []byte) []byte {
		groups := envRef.FindSubmatch(ref)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[2] != nil {
			return groups[2]
		}

		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			missing = append(missing, name)
		}
		return ref
	})
	return out, missing
}
