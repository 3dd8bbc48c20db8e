package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/rules"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rule tables",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a rules file",
	Long:  `Parses a YAML rules file and reports rules missing an id, type or action.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := readRules(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d enabled\n", args[0], len(table), len(rules.Order(table)))
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "ls <file>",
	Short: "List enabled rules in evaluation order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := readRules(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PRIORITY\tID\tSCOPE\tTYPE\tACTION")
		for _, r := range rules.Order(table) {
			fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s\t%s %s\n", r.Priority, r.ID,
				scope(r.Intent), scope(r.State), r.Type, r.Action, r.ActionValue)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesValidateCmd, rulesListCmd)
}

func readRules(path string) ([]domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table, err := rules.ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return table, nil
}

func scope(s string) string {
	if s == "" {
		return domain.AnyScope
	}
	return s
}
