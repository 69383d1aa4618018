package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethsim/tx-simulator/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints version and build information.",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.Full())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
