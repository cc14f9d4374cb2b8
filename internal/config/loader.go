package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses an epoch configuration from the given YAML file
// path. The file is decoded over Default(), then environment references
// are expanded and derived values filled in.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("reading config file: %w", err)}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: fmt.Errorf("parsing config YAML: %w", err)}
	}

	expandEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./epoch.yaml, ~/.epoch/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"epoch.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".epoch", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, &ConfigError{Err: fmt.Errorf("no epoch config found (searched: %v)", candidates)}
}

// expandEnv resolves ${VAR} references from the process environment.
func expandEnv(cfg *Config) {
	p := &cfg.Paths
	for _, s := range []*string{&p.Workspace, &p.Data, &p.Output, &p.Restart, &p.Exec, &p.Parms, &p.Logs, &cfg.Metrics.Textfile, &cfg.Journal.DSN} {
		*s = os.ExpandEnv(*s)
	}
	for i := range cfg.Repopulate.Trees {
		cfg.Repopulate.Trees[i].From = os.ExpandEnv(cfg.Repopulate.Trees[i].From)
	}
	for k, v := range cfg.Commands.Env {
		cfg.Commands.Env[k] = os.ExpandEnv(v)
	}
	for _, src := range []*Source{&cfg.CMORPH.Source, &cfg.GFS.MemberA, &cfg.GFS.MemberB, &cfg.LIR.Source, &cfg.Ensembles.A.Source, &cfg.Ensembles.B.Source} {
		for i, d := range src.Dirs {
			src.Dirs[i] = os.ExpandEnv(d)
		}
	}
}

// applyDefaults fills values derived from other settings.
func applyDefaults(cfg *Config) {
	if cfg.Paths.Restart == "" && cfg.Paths.Output != "" {
		cfg.Paths.Restart = filepath.Join(cfg.Paths.Output, "restart")
	}

	// The ingest window must reach back far enough to see CMORPH files we
	// are still prepared to wait for.
	r := &cfg.Retention
	if cfg.CMORPH.MaxLatencyHours > r.MaxLookbackDays*24 {
		r.MaxLookbackDays = cfg.CMORPH.MaxLatencyHours/24 + 1
	}
	if cfg.CMORPH.DelayHours > r.MaxLookbackDays*24 {
		r.MaxLookbackDays = cfg.CMORPH.DelayHours/24 + 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
