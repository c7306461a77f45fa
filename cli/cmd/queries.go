package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scaffold/cli/style"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Show the most recent SQL statements run by the build manager",
	RunE:  runQueries,
}

var queriesLimit int

func init() {
	queriesCmd.Flags().IntVarP(&queriesLimit, "limit", "n", 20, "number of statements to show")
	rootCmd.AddCommand(queriesCmd)
}

func runQueries(cmd *cobra.Command, args []string) error {
	qs, err := client.Queries()
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		fmt.Println(style.DimText.Render("No queries recorded."))
		return nil
	}
	if queriesLimit > 0 && len(qs) > queriesLimit {
		qs = qs[:queriesLimit]
	}
	for _, q := range qs {
		sql := strings.Join(strings.Fields(q.SQL), " ")
		if len(sql) > 100 {
			sql = sql[:97] + "..."
		}
		line := fmt.Sprintf("  %s %8s  %s", style.DimText.Render(q.At.Format("15:04:05")), q.Duration.Round(time.Microsecond), sql)
		if q.Err != "" {
			line += " " + style.StepFailed.Render(q.Err)
		}
		fmt.Println(line)
	}
	return nil
}
