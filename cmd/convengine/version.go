package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/convengine"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of convengine",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "convengine version %s\n", strings.TrimSpace(convengine.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
