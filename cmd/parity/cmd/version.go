package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version number",
	Long:        `Display the current version of the parity CLI.`,
	Annotations: map[string]string{skipConfig: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("parity version %s\n", version)
		fmt.Println("Live and replay trading ledgers with row-level equivalence checks")
		fmt.Println("https://github.com/rustyeddy/parity")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
