package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"scaffold/cli/api"
)

var (
	apiURL   string
	apiToken string
	client   *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "scaffold",
	Short: "Trigger and follow code generation builds",
	Long: `scaffold talks to the build manager: create builds for a service,
follow their steps while the worker generates code, and read build logs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("SCAFFOLD_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8800"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "build manager URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SCAFFOLD_API_TOKEN"), "API token")
}
