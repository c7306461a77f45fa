package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"scaffold/cli/api"
	"scaffold/cli/style"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Short:   "Create and inspect code generation builds",
	Aliases: []string{"b"},
}

var buildCreateCmd = &cobra.Command{
	Use:   "create <resource> <commit>",
	Short: "Create a build for a resource and start generating",
	Args:  cobra.ExactArgs(2),
	RunE:  runBuildCreate,
}

var buildGetCmd = &cobra.Command{
	Use:   "get <build>",
	Short: "Show a build and its steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildGet,
}

var buildListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recent builds",
	Aliases: []string{"ls"},
	RunE:    runBuildList,
}

var buildLogCmd = &cobra.Command{
	Use:   "log <build>",
	Short: "Print the log of every step of a build",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildLog,
}

var buildWatchCmd = &cobra.Command{
	Use:   "watch <build>",
	Short: "Follow a build until generation finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuildWatch,
}

var (
	createUser    string
	createMessage string
	createWatch   bool
	listResource  string
	listLimit     int
)

func init() {
	user := os.Getenv("SCAFFOLD_USER")
	buildCreateCmd.Flags().StringVarP(&createUser, "user", "u", user, "user creating the build")
	buildCreateCmd.Flags().StringVarP(&createMessage, "message", "m", "", "build message")
	buildCreateCmd.Flags().BoolVarP(&createWatch, "watch", "w", false, "follow the build after creating it")
	buildListCmd.Flags().StringVarP(&listResource, "resource", "r", "", "only builds of this resource")
	buildListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "number of builds to list")

	buildCmd.AddCommand(buildCreateCmd, buildGetCmd, buildListCmd, buildLogCmd, buildWatchCmd)
	rootCmd.AddCommand(buildCmd)
}

func runBuildCreate(cmd *cobra.Command, args []string) error {
	if createUser == "" {
		return fmt.Errorf("--user is required (or set SCAFFOLD_USER)")
	}
	req := api.CreateBuildRequest{
		ResourceID: args[0],
		CommitID:   args[1],
		UserID:     createUser,
		Message:    createMessage,
	}
	if createWatch {
		return watch(func() (*api.Build, error) { return client.CreateBuild(req) })
	}

	b, err := client.CreateBuild(req)
	if err != nil {
		return err
	}
	printBuild(b)
	return nil
}

func runBuildGet(cmd *cobra.Command, args []string) error {
	b, err := client.GetBuild(args[0])
	if err != nil {
		return err
	}
	printBuild(b)
	return nil
}

func runBuildList(cmd *cobra.Command, args []string) error {
	builds, err := client.ListBuilds(listResource, listLimit)
	if err != nil {
		return err
	}
	if len(builds) == 0 {
		fmt.Println(style.DimText.Render("No builds yet."))
		return nil
	}

	fmt.Printf("%s%s%s%s%s\n",
		style.TableHeader.Render(padRight("BUILD", 36)),
		style.TableHeader.Render(padRight("RESOURCE", 16)),
		style.TableHeader.Render(padRight("VERSION", 10)),
		style.TableHeader.Render(padRight("STATUS", 10)),
		style.TableHeader.Render("CREATED"))
	for _, b := range builds {
		fmt.Printf("%s  %s  %s  %s  %s\n",
			padRight(b.ID, 36),
			padRight(b.ResourceID, 16),
			style.Commit.Render(padRight(b.Version, 10)),
			padRight(style.Status(b.Status), 10),
			style.DimText.Render(ago(b.CreatedAt)))
	}
	return nil
}

func runBuildLog(cmd *cobra.Command, args []string) error {
	log, err := client.BuildLog(args[0])
	if err != nil {
		return err
	}
	fmt.Print(log)
	return nil
}

func runBuildWatch(cmd *cobra.Command, args []string) error {
	id := args[0]
	return watch(func() (*api.Build, error) { return client.GetBuild(id) })
}

func printBuild(b *api.Build) {
	fmt.Printf("  %s %s\n", style.Key.Render("Build"), style.Bold.Render(b.ID))
	fmt.Printf("  %s %s\n", style.Key.Render("Resource"), style.Val.Render(b.ResourceID))
	fmt.Printf("  %s %s\n", style.Key.Render("Version"), style.Commit.Render(b.Version))
	if b.Message != "" {
		fmt.Printf("  %s %s\n", style.Key.Render("Message"), style.Val.Render(b.Message))
	}
	fmt.Printf("  %s %s\n", style.Key.Render("Status"), style.Status(b.Status))
	fmt.Println()
	for _, s := range b.Steps {
		fmt.Printf("  %s %s\n", padRight(style.Status(s.Status), 10), s.Message)
		for _, l := range s.Logs {
			fmt.Printf("      %s %s\n", style.DimText.Render(l.CreatedAt.Format("15:04:05")), style.Level(l.Level).Render(l.Message))
		}
	}
}

func padRight(s string, n int) string {
	w := lipgloss.Width(s)
	if w >= n {
		return s
	}
	return s + strings.Repeat(" ", n-w)
}

func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
