package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
retention:
  max_lookback_days: 2
  max_model_lookback_days: 4
  max_lookahead_days: 1
  max_ensemble_lead_hours: 36
paths:
  workspace: ${EPOCH_TEST_ROOT}/work
  data: ${EPOCH_TEST_ROOT}/data
  output: ${EPOCH_TEST_ROOT}/com/epoch.{ymd}/{hh}
  exec: /opt/epoch/exec
  parms: /opt/epoch/parm
  logs: ${EPOCH_TEST_ROOT}/logs
cleanup:
  delete_data_dir: true
commands:
  timeout: 30m
  env:
    COMOUT: ${EPOCH_TEST_ROOT}/com
cmorph:
  delay_hours: 3
  max_latency_hours: 12
  source:
    dirs: [/dcom/{ymd}/cmorph2]
ensembles:
  a:
    source:
      dirs: [/com/cmce/{ymd}/{hh}]
log:
  level: debug
  format: text
notify:
  brokers: [localhost:9092]
  topic: epoch-products
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "epoch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("EPOCH_TEST_ROOT", "/scratch")
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Retention.MaxLookbackDays != 2 {
		t.Errorf("MaxLookbackDays = %d, want 2", cfg.Retention.MaxLookbackDays)
	}
	if cfg.Paths.Workspace != "/scratch/work" {
		t.Errorf("Workspace = %q, want %q", cfg.Paths.Workspace, "/scratch/work")
	}
	if cfg.Paths.Restart != "/scratch/com/epoch.{ymd}/{hh}/restart" {
		t.Errorf("Restart = %q", cfg.Paths.Restart)
	}
	if cfg.Commands.Env["COMOUT"] != "/scratch/com" {
		t.Errorf("Env[COMOUT] = %q", cfg.Commands.Env["COMOUT"])
	}
	if !cfg.Cleanup.DeleteData || cfg.Cleanup.DeleteWorkspace {
		t.Errorf("Cleanup = %+v", cfg.Cleanup)
	}
	if got := cfg.Ensembles.A.Source.Dirs; len(got) != 1 || got[0] != "/com/cmce/{ymd}/{hh}" {
		t.Errorf("ensembles.a dirs = %v", got)
	}
	// untouched fields keep their defaults
	if cfg.Ensembles.A.Source.Pattern == "" {
		t.Error("ensembles.a pattern lost its default")
	}
	if cfg.CMORPH.FrequencyMinutes != 30 {
		t.Errorf("FrequencyMinutes = %d, want 30", cfg.CMORPH.FrequencyMinutes)
	}
	if len(cfg.Combine.Commands) != 6 {
		t.Errorf("combine commands = %d, want 6", len(cfg.Combine.Commands))
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate: %v", errs)
	}
}

func TestLoadRaisesLookbackForCMORPHLatency(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
retention:
  max_lookback_days: 1
cmorph:
  max_latency_hours: 50
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retention.MaxLookbackDays != 3 {
		t.Errorf("MaxLookbackDays = %d, want 3", cfg.Retention.MaxLookbackDays)
	}
}

func TestLoadRaisesLookbackForCMORPHDelay(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
retention:
  max_lookback_days: 1
cmorph:
  max_latency_hours: 0
  delay_hours: 30
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retention.MaxLookbackDays != 2 {
		t.Errorf("MaxLookbackDays = %d, want 2", cfg.Retention.MaxLookbackDays)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error should wrap os.ErrNotExist: %v", err)
	}
}

func TestLoadBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "retention: [unclosed"))
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
}

func TestValidateNegativeRetention(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
retention:
  max_model_lookback_days: -1
  max_ensemble_lead_hours: -6
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	errs := Validate(cfg)
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{"retention.max_model_lookback_days", "retention.max_ensemble_lead_hours"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s (got %v)", want, errs)
		}
	}

	checkErr := Check(cfg)
	var ce *ConfigError
	if !errors.As(checkErr, &ce) || len(ce.Problems) != len(errs) {
		t.Errorf("Check = %v, want ConfigError with %d problems", checkErr, len(errs))
	}
}

func TestValidateCommandsAndSources(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
cmorph:
  source:
    pattern: "("
  convert:
    app: ""
gfs:
  lead_hours: []
ensembles:
  b:
    min_lead: 10
    max_lead: 5
    preserve:
      BOGUS: [x]
combine:
  commands:
    - app: EnsFcstComb
      instance: epochOpt
      args: sideways
log:
  level: loud
notify:
  brokers: [k:9092]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	errs := Validate(cfg)
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	for _, want := range []string{
		"cmorph.source.pattern",
		"cmorph.convert.app",
		"gfs.lead_hours",
		"ensembles.b.max_lead",
		"ensembles.b.preserve",
		"combine.commands[0].args",
		"log.level",
		"notify.topic",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected validation error for %s, got:\n%s", want, joined)
		}
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("default config should validate, got %v", errs)
	}
}

func TestValidatePatternNeedsTimestampGroups(t *testing.T) {
	cfg := Default()
	cfg.LIR.Source.Pattern = `GLOBCOMPLIR_nc\.\d{10}$`
	errs := Validate(cfg)
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors (ymd, hour), got %v", errs)
	}
	for _, e := range errs {
		if e.Field != "lir.source.pattern" {
			t.Errorf("unexpected field %s", e.Field)
		}
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "paths.data", Message: "is required"}
	if e.Error() != "paths.data: is required" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestLoadDefaultSearchesWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	if err := os.WriteFile(filepath.Join(dir, "epoch.yaml"), []byte("retention:\n  max_lookahead_days: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault: %v", err)
	}
	if cfg.Retention.MaxLookaheadDays != 2 {
		t.Errorf("MaxLookaheadDays = %d, want 2", cfg.Retention.MaxLookaheadDays)
	}
}

func TestLoadDefaultNothingFound(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())
	_, err := LoadDefault()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("error = %v, want *ConfigError", err)
	}
}

func TestRepopulateTreesExpandAndValidate(t *testing.T) {
	t.Setenv("EPOCH_TEST_ROOT", "/scratch")
	cfg, err := Load(writeConfig(t, `
repopulate:
  enabled: true
  trees:
    - from: ${EPOCH_TEST_ROOT}/com/epoch.{ymd}/*/spdb
      to: spdb
      days: 30
    - from: ""
      to: ../outside
      days: -1
ensembles:
  a:
    publish:
      LOOKUP-GEN-PRIMARY: [mdv/model/cmceProbOpt/{ymd}/g_{hh}0000]
      NOPE: [x]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Repopulate.Trees[0].From; got != "/scratch/com/epoch.{ymd}/*/spdb" {
		t.Errorf("From = %q, env not expanded", got)
	}

	joined := ""
	for _, e := range Validate(cfg) {
		joined += e.Error() + "\n"
	}
	for _, want := range []string{
		"repopulate.trees[1].from",
		"repopulate.trees[1].to",
		"repopulate.trees[1].days",
		`ensembles.a.publish: unknown sub-step "NOPE"`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected validation error for %s, got:\n%s", want, joined)
		}
	}
	if strings.Contains(joined, "repopulate.trees[0]") {
		t.Errorf("first tree is valid, got:\n%s", joined)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
