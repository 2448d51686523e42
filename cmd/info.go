package cmd

import (
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/loggers/cli"
	"github.com/luigi-project/hearth/status"
	"github.com/luigi-project/hearth/supervisor"
)

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <module>",
		Short: "Shows the full registry record and live state of a module.",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: infoCmdRun,
	}
}

func infoCmdRun(cmd *cobra.Command, args []string) {
	modulePath := resolveModuleArg(cmd.Context(), args[0])

	c := config.Get()
	store, err := buildStore()
	if err != nil {
		log.WithField("error", err).Fatal("failed to open module registry")
	}
	agg := status.New(store, supervisor.NewSystemd(controlTimeout(c)), supervisor.HostProcessTable{}, controlTimeout(c))
	defer agg.Close()

	detail, err := agg.GetDetail(cmd.Context(), modulePath)
	if err != nil {
		log.WithField("error", err).Fatal("failed to fetch module detail")
	}

	bold := color.New(color.Bold)
	fmt.Printf("%s %s\n", bold.Sprint("Module:"), detail.ModulePath)
	fmt.Printf("%s %s\n", bold.Sprint("Version:"), detail.Version)
	fmt.Printf("%s %s\n", bold.Sprint("Status:"), colorizeStatus(detail.Status))
	if detail.Description != "" {
		fmt.Printf("%s %s\n", bold.Sprint("Description:"), detail.Description)
	}
	if detail.Author != "" {
		fmt.Printf("%s %s\n", bold.Sprint("Author:"), detail.Author)
	}
	fmt.Printf("%s %s\n", bold.Sprint("Capabilities:"), joinList(detail.Capabilities))
	if len(detail.Dependencies) > 0 {
		fmt.Printf("%s %s\n", bold.Sprint("Dependencies:"), joinList(detail.Dependencies))
	}
	if detail.Hardware != nil {
		fmt.Printf("%s pins=%v sensors=%s\n", bold.Sprint("Hardware:"), detail.Hardware.GPIOPins, joinList(detail.Hardware.Sensors))
	}
	fmt.Printf("%s %s\n", bold.Sprint("Config:"), detail.ConfigPath)
	fmt.Printf("%s %s\n", bold.Sprint("Log:"), detail.LogPath)
	fmt.Printf("%s %s (by %s, %s)\n", bold.Sprint("Installed:"), detail.InstalledAt.Format(time.RFC3339), detail.InstalledBy, detail.InstallMethod)
	fmt.Printf("%s %s\n", bold.Sprint("Updated:"), detail.UpdatedAt.Format(time.RFC3339))

	if detail.Runtime != nil {
		fmt.Printf("%s\n", bold.Sprint("Runtime:"))
		fmt.Printf("  active state: %s\n", stringOrUnknown(detail.Runtime.ActiveState))
		if detail.Runtime.Enabled != nil {
			fmt.Printf("  enabled:      %t\n", *detail.Runtime.Enabled)
		}
		if detail.Runtime.PID != nil {
			fmt.Printf("  pid:          %d\n", *detail.Runtime.PID)
		}
		if detail.Runtime.UptimeSeconds != nil {
			fmt.Printf("  uptime:       %s\n", (time.Duration(*detail.Runtime.UptimeSeconds) * time.Second).String())
		}
		if detail.Runtime.MemoryBytes != nil {
			fmt.Printf("  memory:       %d bytes\n", *detail.Runtime.MemoryBytes)
		}
	}
}

func stringOrUnknown(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
