// loader.go reads the YAML config file, loading .env files first and
// expanding environment variables in the YAML text before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and bare $VAR references in
// config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML configuration file, starting from
// defaults and overlaying the file's values.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse([]byte(expandEnvVars(string(data))))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	resolveSecrets(cfg)
	return cfg, nil
}

// Parse parses YAML bytes into a Config over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating the directory when needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// loadEnvFiles loads .env from the working directory and the state dir,
// silently ignoring missing files. Existing environment wins.
func loadEnvFiles() {
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(Dir(), ".env"))
}

// expandEnvVars substitutes environment references in the YAML text.
func expandEnvVars(text string) string {
	return envVarPattern.ReplaceAllStringFunc(text, func(m string) string {
		groups := envVarPattern.FindStringSubmatch(m)
		name := groups[1]
		if name == "" {
			name = groups[3]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return groups[2] // default value, possibly empty
	})
}

// resolveRelativePaths anchors relative file paths at the config file's
// directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.SessionFile = anchor(cfg.SessionFile)
	cfg.Scheduler.DBPath = anchor(cfg.Scheduler.DBPath)
	cfg.Claude.MCPConfig = anchor(cfg.Claude.MCPConfig)
	cfg.Claude.WorkDir = anchor(cfg.Claude.WorkDir)
}
