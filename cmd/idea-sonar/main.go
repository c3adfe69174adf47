// Command idea-sonar rates how original an idea is against web pages and
// patent filings.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joelkehle/idea-sonar/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "idea-sonar",
	Short: "Evidence-based originality check for short idea statements",
	Long: `idea-sonar searches the web and the KIPRIS patent database for material
similar to an idea, scores it by embedding similarity, asks a language model
whether the closest matches show the idea already implemented, and rates the
idea's originality.

Run "serve" for the HTTP API or "analyze" for a one-off report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !needsConfig(cmd) {
			return nil
		}
		cfgFile, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(config.NewViper(cfgFile))
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of idea-sonar",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("idea-sonar %s\n", version)
	},
}

// needsConfig reports whether cmd runs the pipeline. Help, version and
// shell completion work without credentials.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./idea-sonar.yaml or ~/.config/idea-sonar/idea-sonar.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
