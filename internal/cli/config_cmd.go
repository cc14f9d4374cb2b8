package cli

import (
	"fmt"
	"time"

	"github.com/lucasnoah/epochctl/internal/config"
	"github.com/lucasnoah/epochctl/internal/cycle"
	"github.com/lucasnoah/epochctl/internal/orchestrator"
	"github.com/lucasnoah/epochctl/internal/retention"
	"github.com/lucasnoah/epochctl/internal/snapshot"
	"github.com/lucasnoah/epochctl/internal/state"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configFile string
	showCycle  string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the epoch configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the epoch configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))

		if showCycle == "" {
			return nil
		}
		c, err := cycle.Parse(showCycle)
		if err != nil {
			return err
		}
		data, err = yaml.Marshal(cycleView(cfg, c))
		if err != nil {
			return fmt.Errorf("marshalling cycle view: %w", err)
		}
		cmd.Println("---")
		cmd.Print(string(data))
		return nil
	},
}

// derivedCycle is what the configuration resolves to for one cycle.
type derivedCycle struct {
	Cycle        string   `yaml:"cycle"`
	Stages       []string `yaml:"stages"`
	LookbackDays int      `yaml:"effective_lookback_days"`
	IngestAfter  string   `yaml:"ingest_after"`
	IngestUntil  string   `yaml:"ingest_until"`
	Horizons     struct {
		Inputs     string `yaml:"inputs"`
		Ensembles  string `yaml:"ensembles"`
		Thresholds string `yaml:"thresholds"`
	} `yaml:"horizons"`
	Layout snapshot.Layout `yaml:"layout"`
}

func cycleView(cfg *config.Config, c cycle.ID) derivedCycle {
	p := retention.NewPolicy(cfg.Retention)
	w := p.IngestWindow(c)
	v := derivedCycle{
		Cycle:        string(c),
		LookbackDays: p.MaxLookbackDays,
		IngestAfter:  w.Oldest.Format(time.RFC3339),
		IngestUntil:  w.Newest.Format(time.RFC3339),
		Layout:       snapshot.NewLayout(cfg.Paths, c),
	}
	v.Horizons.Inputs = p.InputHorizon(c).Format(time.RFC3339)
	v.Horizons.Ensembles = p.EnsembleHorizon(c).Format(time.RFC3339)
	v.Horizons.Thresholds = p.ThresholdHorizon(c).Format(time.RFC3339)
	if c.Hour()%6 == 0 {
		for _, s := range state.Stages() {
			if orchestrator.Applies(s, c.Hour()) {
				v.Stages = append(v.Stages, s.String())
			}
		}
	}
	return v
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringVar(&showCycle, "cycle", "", "Also show the windows and directories derived for this cycle (YYYYMMDDHH)")
}
