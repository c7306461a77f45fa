package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scaffold/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(lipgloss.NewStyle().Bold(true).Foreground(style.Primary).Render("scaffold"))
		fmt.Println()
		fmt.Printf("  %s %s\n", style.Key.Render("Version"), style.Val.Render(Version))
		fmt.Printf("  %s %s\n", style.Key.Render("API"), style.Val.Render(apiURL))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
