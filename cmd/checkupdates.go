package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/loggers/cli"
	"github.com/luigi-project/hearth/updates"
)

func newCheckUpdatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-updates [module]",
		Short: "Reports version drift between the registry and module sources.",
		Args:  cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: checkUpdatesCmdRun,
	}
}

func checkUpdatesCmdRun(cmd *cobra.Command, args []string) {
	store, err := buildStore()
	if err != nil {
		log.WithField("error", err).Fatal("failed to open module registry")
	}
	checker := updates.New(store, config.Get().System.ModulesDirectory)

	var results []updates.Result
	if len(args) == 1 {
		res, err := checker.CheckUpdate(cmd.Context(), resolveModuleArg(cmd.Context(), args[0]))
		if err != nil {
			log.WithField("error", err).Fatal("update check failed")
		}
		results = append(results, *res)
	} else {
		results, err = checker.CheckAll(cmd.Context())
		if err != nil {
			log.WithField("error", err).Fatal("update check failed")
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tCURRENT\tAVAILABLE\tSTATE")
	for _, res := range results {
		available := res.Available
		if available == "" {
			available = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.ModulePath, res.Current, available, colorizeState(res.State))
	}
	_ = w.Flush()
}

func colorizeState(state updates.State) string {
	switch state {
	case updates.StateUpToDate:
		return color.GreenString(string(state))
	case updates.StateUpdateAvailable:
		return color.YellowString(string(state))
	case updates.StateSourceMissing:
		return color.RedString(string(state))
	}
	return string(state)
}
