package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"scaffold/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the build manager and its backing services",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach the build manager at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("SCAFFOLD HEALTH"))

	for _, s := range h.Services {
		label := style.Healthy.Render("up")
		if s.Status != "up" {
			label = style.Unhealthy.Render(s.Status)
			if s.Details != "" {
				label += " " + style.DimText.Render(s.Details)
			}
		}
		fmt.Printf("  %s  %-14s %s\n", style.ServiceDot(s.Status), style.Bold.Render(s.Name), label)
	}

	fmt.Println()
	if h.Status == "healthy" {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down"))
	}
	return nil
}
