package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/internal/models"
	"github.com/luigi-project/hearth/loggers/cli"
)

var listArgs struct {
	IncludeRemoved bool
}

func newListCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "Lists the modules recorded in the registry.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: listCmdRun,
	}

	command.Flags().BoolVar(&listArgs.IncludeRemoved, "all", false, "include soft-deleted modules in the listing")

	return command
}

func listCmdRun(cmd *cobra.Command, _ []string) {
	store, err := buildStore()
	if err != nil {
		log.WithField("error", err).Fatal("failed to open module registry")
	}
	records, err := store.List(cmd.Context(), listArgs.IncludeRemoved)
	if err != nil {
		log.WithField("error", err).Fatal("failed to list modules")
	}
	if len(records) == 0 {
		fmt.Println("no modules installed")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tVERSION\tSTATUS\tCAPABILITIES")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.ModulePath, rec.Version, colorizeStatus(rec.Status), joinList(rec.Capabilities))
	}
	_ = w.Flush()
}

func colorizeStatus(status models.ModuleStatus) string {
	switch status {
	case models.StatusActive:
		return color.GreenString(string(status))
	case models.StatusFailed:
		return color.RedString(string(status))
	case models.StatusRemoved:
		return color.HiBlackString(string(status))
	case models.StatusInactive:
		return color.YellowString(string(status))
	}
	return string(status)
}

func joinList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	out := items[0]
	for _, item := range items[1:] {
		out += "," + item
	}
	return out
}

// resolveModuleArg accepts either a bare module name or a full
// "<category>/<name>" path and returns the registry key.
func resolveModuleArg(ctx context.Context, arg string) string {
	store, err := buildStore()
	if err != nil {
		log.WithField("error", err).Fatal("failed to open module registry")
	}
	if _, _, err := models.SplitModulePath(arg); err == nil {
		return arg
	}
	records, err := store.List(ctx, true)
	if err != nil {
		log.WithField("error", err).Fatal("failed to list modules")
	}
	for _, rec := range records {
		if rec.Name == arg {
			return rec.ModulePath
		}
	}
	log.WithField("module", arg).Fatal("no module with that name is recorded in the registry")
	return ""
}
