package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigError is a fatal configuration problem: the file could not be read
// or parsed, or it failed validation.
type ConfigError struct {
	Path     string
	Err      error
	Problems []ValidationError
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if len(e.Problems) > 0 {
		fmt.Fprintf(&b, ": %d validation error(s)", len(e.Problems))
		for _, p := range e.Problems {
			b.WriteString("; " + p.Error())
		}
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var argStyles = map[string]bool{
	ArgsInterval: true,
	ArgsStartEnd: true,
	ArgsFile:     true,
	ArgsWindow:   true,
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	r := cfg.Retention
	for _, f := range []struct {
		name string
		v    int
	}{
		{"retention.max_lookback_days", r.MaxLookbackDays},
		{"retention.max_model_lookback_days", r.MaxModelLookbackDays},
		{"retention.max_lookahead_days", r.MaxLookaheadDays},
		{"retention.max_ensemble_lead_hours", r.MaxEnsembleLeadHours},
		{"cmorph.delay_hours", cfg.CMORPH.DelayHours},
		{"cmorph.max_latency_hours", cfg.CMORPH.MaxLatencyHours},
		{"paths.seed_lookback_days", cfg.Paths.SeedLookbackDays},
	} {
		if f.v < 0 {
			add(f.name, fmt.Sprintf("must be non-negative, got %d", f.v))
		}
	}

	p := cfg.Paths
	for _, f := range []struct {
		name string
		v    string
	}{
		{"paths.workspace", p.Workspace},
		{"paths.data", p.Data},
		{"paths.output", p.Output},
		{"paths.exec", p.Exec},
		{"paths.logs", p.Logs},
	} {
		if strings.TrimSpace(f.v) == "" {
			add(f.name, "is required")
		}
	}

	for i, tr := range cfg.Repopulate.Trees {
		prefix := fmt.Sprintf("repopulate.trees[%d]", i)
		if tr.From == "" {
			add(prefix+".from", "is required")
		}
		if tr.To == "" || filepath.IsAbs(tr.To) || strings.HasPrefix(filepath.Clean(tr.To), "..") {
			add(prefix+".to", fmt.Sprintf("must be a path inside the workspace, got %q", tr.To))
		}
		if tr.Days < 0 {
			add(prefix+".days", fmt.Sprintf("must be non-negative, got %d", tr.Days))
		}
	}

	if cfg.Commands.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Commands.Timeout); err != nil {
			add("commands.timeout", fmt.Sprintf("invalid duration %q", cfg.Commands.Timeout))
		}
	}

	if cfg.CMORPH.FrequencyMinutes <= 0 {
		add("cmorph.frequency_minutes", "must be positive")
	}
	validateSource("cmorph.source", cfg.CMORPH.Source, &errs)
	validateCommand("cmorph.convert", cfg.CMORPH.Convert, &errs)
	validateCommands("cmorph.average", cfg.CMORPH.Average, &errs)

	validateSource("gfs.member_a", cfg.GFS.MemberA, &errs)
	validateSource("gfs.member_b", cfg.GFS.MemberB, &errs)
	if len(cfg.GFS.LeadHours) == 0 {
		add("gfs.lead_hours", "at least one lead hour is required")
	}
	validateCommand("gfs.convert_a", cfg.GFS.ConvertA, &errs)
	validateCommand("gfs.convert_b", cfg.GFS.ConvertB, &errs)
	validateCommands("gfs.merge", cfg.GFS.Merge, &errs)

	validateSource("lir.source", cfg.LIR.Source, &errs)
	validateCommands("lir.per_hour", cfg.LIR.PerHour, &errs)
	validateCommands("lir.final", cfg.LIR.Final, &errs)

	validateEnsemble("ensembles.a", cfg.Ensembles.A, &errs)
	validateEnsemble("ensembles.b", cfg.Ensembles.B, &errs)

	validateCommands("combine.commands", cfg.Combine.Commands, &errs)

	if !logLevels[strings.ToLower(cfg.Log.Level)] {
		add("log.level", fmt.Sprintf("unrecognized level %q", cfg.Log.Level))
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		add("log.format", fmt.Sprintf("must be json or text, got %q", cfg.Log.Format))
	}
	if len(cfg.Notify.Brokers) > 0 && cfg.Notify.Topic == "" {
		add("notify.topic", "is required when brokers are set")
	}

	return errs
}

// Check runs Validate and wraps any problems in a ConfigError.
func Check(cfg *Config) error {
	if errs := Validate(cfg); len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}
	return nil
}

func validateSource(prefix string, s Source, errs *[]ValidationError) {
	if len(s.Dirs) == 0 {
		*errs = append(*errs, ValidationError{Field: prefix + ".dirs", Message: "at least one directory is required"})
	}
	if s.Pattern == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".pattern", Message: "is required"})
		return
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: prefix + ".pattern", Message: err.Error()})
		return
	}
	for _, group := range []string{"ymd", "hour"} {
		if re.SubexpIndex(group) < 0 {
			*errs = append(*errs, ValidationError{Field: prefix + ".pattern", Message: fmt.Sprintf("needs a named group %q", group)})
		}
	}
}

func validateCommand(prefix string, c Command, errs *[]ValidationError) {
	if c.App == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".app", Message: "is required"})
	}
	if c.Instance == "" {
		*errs = append(*errs, ValidationError{Field: prefix + ".instance", Message: "is required"})
	}
	if !argStyles[c.Args] {
		*errs = append(*errs, ValidationError{Field: prefix + ".args", Message: fmt.Sprintf("unrecognized argument style %q", c.Args)})
	}
}

func validateCommands(prefix string, cs []Command, errs *[]ValidationError) {
	for i, c := range cs {
		validateCommand(fmt.Sprintf("%s[%d]", prefix, i), c, errs)
	}
}

var subStepKeys = map[string]bool{
	"CONVERT":              true,
	"ACCUMULATE":           true,
	"LOOKUP-GEN-PRIMARY":   true,
	"LOOKUP-GEN-SECONDARY": true,
	"PROBABILITY-COMPUTE":  true,
}

func validateEnsemble(prefix string, e Ensemble, errs *[]ValidationError) {
	validateSource(prefix+".source", e.Source, errs)
	if e.MaxLead <= e.MinLead {
		*errs = append(*errs, ValidationError{Field: prefix + ".max_lead", Message: "must be greater than min_lead"})
	}
	validateCommand(prefix+".convert", e.Convert, errs)
	validateCommands(prefix+".accumulate", e.Accumulate, errs)
	validateCommands(prefix+".lookup_primary", e.LookupPrimary, errs)
	validateCommands(prefix+".lookup_secondary", e.LookupSecondary, errs)
	validateCommands(prefix+".probability", e.Probability, errs)
	validateCommands(prefix+".thresholds", e.Thresholds, errs)
	for field, m := range map[string]map[string][]string{"preserve": e.Preserve, "publish": e.Publish} {
		for step := range m {
			if !subStepKeys[step] {
				*errs = append(*errs, ValidationError{Field: prefix + "." + field, Message: fmt.Sprintf("unknown sub-step %q", step)})
			}
		}
	}
}
