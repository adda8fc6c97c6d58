package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// Load reads a YAML config file at path and overlays any
// AGENTCORE_<PROVIDER>_API_KEY-style environment variables onto the
// matching ProviderConfig.APIKey, the way gentica's env.go/Env type is
// meant to be used (environment as the final, highest-priority config
// layer).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg, NewEnv())
	cfg.workingDir = filepath.Dir(path)
	return &cfg, nil
}

// applyEnvOverrides overlays AGENTCORE_<ID>_API_KEY and
// AGENTCORE_<ID>_BASE_URL onto each configured provider's id, id
// uppercased and with '-' replaced by '_'.
func applyEnvOverrides(cfg *Config, env *Env) {
	for name, model := range cfg.Models {
		key := envKey(model.Provider.ID)
		if v := env.Get("AGENTCORE_" + key + "_API_KEY"); v != "" {
			model.Provider.APIKey = v
		}
		if v := env.Get("AGENTCORE_" + key + "_BASE_URL"); v != "" {
			model.Provider.BaseURL = v
		}
		cfg.Models[name] = model
	}
}

func envKey(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}
