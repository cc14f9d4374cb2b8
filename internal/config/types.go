package config

// Config is the top-level configuration parsed from epoch YAML.
type Config struct {
	Retention  Retention  `yaml:"retention"`
	Paths      Paths      `yaml:"paths"`
	Cleanup    Cleanup    `yaml:"cleanup"`
	Repopulate Repopulate `yaml:"repopulate"`
	Commands   Commands   `yaml:"commands"`
	CMORPH     CMORPH     `yaml:"cmorph"`
	GFS        GFS        `yaml:"gfs"`
	LIR        LIR        `yaml:"lir"`
	Ensembles  Ensembles  `yaml:"ensembles"`
	Combine    Combine    `yaml:"combine"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
	Journal    Journal    `yaml:"journal"`
	Notify     Notify     `yaml:"notify"`
}

// Retention bounds how far back and forward inputs and ensemble runs are
// considered, and when ledger entries age out.
type Retention struct {
	MaxLookbackDays      int `yaml:"max_lookback_days"`
	MaxModelLookbackDays int `yaml:"max_model_lookback_days"`
	MaxLookaheadDays     int `yaml:"max_lookahead_days"`
	MaxEnsembleLeadHours int `yaml:"max_ensemble_lead_hours"`
}

// Paths locates the run's directories. Output may contain {ymd}, {hh} and
// {cycle} placeholders, expanded per cycle.
type Paths struct {
	Workspace string `yaml:"workspace"`
	Data      string `yaml:"data"`
	Output    string `yaml:"output"`
	Restart   string `yaml:"restart"`
	Exec      string `yaml:"exec"`
	Parms     string `yaml:"parms"`
	Logs      string `yaml:"logs"`
	// SeedLookbackDays bounds the search for a previous cycle's published
	// ledgers when starting fresh.
	SeedLookbackDays int `yaml:"seed_lookback_days"`
}

// Cleanup toggles best-effort removal of transient trees after a run.
type Cleanup struct {
	DeleteData      bool `yaml:"delete_data_dir"`
	DeleteWorkspace bool `yaml:"delete_workspace"`
}

// Repopulate copies trees published by earlier days into the workspace
// before any stage runs, so threshold updates and COMBINE see their
// history.
type Repopulate struct {
	Enabled bool             `yaml:"enabled"`
	Trees   []RepopulateTree `yaml:"trees"`
}

// RepopulateTree is one published tree. From is a glob with {ymd}
// placeholders, expanded for each day from cycle-Days to the cycle day;
// matches are merged into To (relative to the workspace), oldest first.
type RepopulateTree struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Days int    `yaml:"days"`
}

// Commands configures how forecast executables are invoked.
type Commands struct {
	Env     map[string]string `yaml:"env"`
	Timeout string            `yaml:"timeout"`
}

// Argument styles for Command.Args.
const (
	ArgsInterval = "interval"
	ArgsStartEnd = "start_end"
	ArgsFile     = "file"
	ArgsWindow   = "window"
)

// Command is one forecast executable invocation. The parameter file is
// <app>.<instance> under the parms directory.
type Command struct {
	App      string `yaml:"app"`
	Instance string `yaml:"instance"`
	Args     string `yaml:"args"`
}

// Source describes where a stream's files are dropped. Dirs may contain
// {ymd}, {hh} and {cycle} placeholders. Pattern is a regular expression
// matched against the full file path, with named groups ymd, hour, minute,
// lead, member and num.
type Source struct {
	Dirs      []string `yaml:"dirs"`
	Pattern   string   `yaml:"pattern"`
	Recursive bool     `yaml:"recursive"`
	Exclude   []string `yaml:"exclude"`
}

// CMORPH configures the half-hourly precipitation ingest.
type CMORPH struct {
	Source           Source    `yaml:"source"`
	FrequencyMinutes int       `yaml:"frequency_minutes"`
	DelayHours       int       `yaml:"delay_hours"`
	MaxLatencyHours  int       `yaml:"max_latency_hours"`
	Convert          Command   `yaml:"convert"`
	Average          []Command `yaml:"average"`
}

// GFS configures the deterministic model ingest.
type GFS struct {
	MemberA   Source    `yaml:"member_a"`
	MemberB   Source    `yaml:"member_b"`
	LeadHours []int     `yaml:"lead_hours"`
	ConvertA  Command   `yaml:"convert_a"`
	ConvertB  Command   `yaml:"convert_b"`
	Merge     []Command `yaml:"merge"`
	Preserve  []string  `yaml:"preserve"`
}

// LIR configures the satellite infrared ingest.
type LIR struct {
	Source  Source    `yaml:"source"`
	PerHour []Command `yaml:"per_hour"`
	Final   []Command `yaml:"final"`
}

// Ensembles holds the two ensemble streams.
type Ensembles struct {
	A Ensemble `yaml:"a"`
	B Ensemble `yaml:"b"`
}

// Ensemble configures one ensemble stream and its sub-steps.
type Ensemble struct {
	Source          Source              `yaml:"source"`
	MinLead         int                 `yaml:"min_lead"`
	MaxLead         int                 `yaml:"max_lead"`
	Convert         Command             `yaml:"convert"`
	Accumulate      []Command           `yaml:"accumulate"`
	LookupPrimary   []Command           `yaml:"lookup_primary"`
	LookupSecondary []Command           `yaml:"lookup_secondary"`
	Probability     []Command           `yaml:"probability"`
	Thresholds      []Command           `yaml:"thresholds"`
	// Preserve and Publish are keyed by sub-step name. Preserve copies
	// data-directory trees into the restart snapshot; Publish copies
	// workspace trees to the cycle output once the sub-step succeeds.
	Preserve map[string][]string `yaml:"preserve"`
	Publish  map[string][]string `yaml:"publish"`
}

// Combine configures the final product step.
type Combine struct {
	Commands []Command `yaml:"commands"`
	Products []string  `yaml:"products"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus textfile written at the end of a run.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// Journal configures the PostgreSQL run journal. Empty DSN disables it.
type Journal struct {
	DSN string `yaml:"dsn"`
}

// Notify configures product alerts. No brokers disables it.
type Notify struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}
