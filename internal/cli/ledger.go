package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/epochctl/internal/inputs"
	"github.com/lucasnoah/epochctl/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and maintain the workspace ledgers",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show [cycle]",
	Short: "Print the input ledger and stage state as stored on disk",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cycleArg(args)
		if err != nil {
			return err
		}
		orch, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		in, m, err := orch.Ledgers(c)
		if err != nil {
			return err
		}

		stream, _ := cmd.Flags().GetString("stream")
		if stream != "" {
			for _, k := range in.Entries(inputs.Stream(stream)) {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		}

		which, _ := cmd.Flags().GetString("which")
		var docs []*ledger.Document
		switch which {
		case "inputs":
			docs = append(docs, in.Encode())
		case "state":
			docs = append(docs, m.Encode())
		case "", "all":
			docs = append(docs, in.Encode(), m.Encode())
		default:
			return fmt.Errorf("unknown ledger %q (want inputs, state or all)", which)
		}
		for _, doc := range docs {
			data, err := ledger.Encode(doc)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune [cycle]",
	Short: "Apply retention to the workspace ledgers",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cycleArg(args)
		if err != nil {
			return err
		}
		orch, cleanup, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := orch.Prune(c)
		if err != nil {
			return fmt.Errorf("prune ledgers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d input entries and %d ensemble runs.\n", res.Inputs, res.State)
		return nil
	},
}

func init() {
	ledgerShowCmd.Flags().String("which", "all", "Ledger to print: inputs, state or all")
	ledgerShowCmd.Flags().String("stream", "", "Print only the entries of one input stream (GFS, LIR, CMORPH, RAW_CMORPH)")
	ledgerCmd.AddCommand(ledgerShowCmd)
}
