package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/orderdispatch/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario [file|dir]...",
	Short: "Run dispatch scenarios against an in-memory engine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarios,
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	var all []*scenarios.Scenario
	for _, p := range args {
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		if fi.IsDir() {
			scs, err := scenarios.LoadDir(p)
			if err != nil {
				return err
			}
			all = append(all, scs...)
			continue
		}
		sc, err := scenarios.Load(p)
		if err != nil {
			return err
		}
		all = append(all, sc)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, sc := range all {
		res, err := scenarios.Run(cmd.Context(), sc)
		if err != nil {
			failed++
			fmt.Fprintf(out, "ERROR %s: %v\n", sc.Name, err)
			continue
		}
		if res.Passed() {
			fmt.Fprintf(out, "PASS  %s (%d shipments)\n", res.Name, len(res.Shipments))
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s\n", res.Name)
		for _, f := range res.Failures {
			fmt.Fprintf(out, "      %s\n", f)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(all))
	}
	return nil
}
