package cmd

import (
	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/installer"
	"github.com/luigi-project/hearth/loggers/cli"
	"github.com/luigi-project/hearth/permissions"
	"github.com/luigi-project/hearth/supervisor"
)

func newInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <category>/<name>",
		Short: "Registers a module from the modules directory and secures its artifacts.",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: func(cmd *cobra.Command, args []string) {
			rec, err := buildInstaller().Install(cmd.Context(), args[0])
			if err != nil {
				log.WithField("error", err).Fatal("installation failed")
			}
			log.WithFields(log.Fields{"module": rec.ModulePath, "version": rec.Version}).Info("module installed")
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <module>",
		Short: "Stops a module's service and soft-deletes its registry record.",
		Args:  cobra.ExactArgs(1),
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			log.SetHandler(cli.Default)
		},
		Run: func(cmd *cobra.Command, args []string) {
			rec, err := buildInstaller().Remove(cmd.Context(), resolveModuleArg(cmd.Context(), args[0]))
			if err != nil {
				log.WithField("error", err).Fatal("removal failed")
			}
			log.WithField("module", rec.ModulePath).Info("module removed, record retained")
		},
	}
}

func buildInstaller() *installer.Installer {
	c := config.Get()
	if err := config.EnsureDirectories(c); err != nil {
		log.WithField("error", err).Fatal("failed to create state directories")
	}
	store, err := buildStore()
	if err != nil {
		log.WithField("error", err).Fatal("failed to open module registry")
	}
	broker := permissions.NewBroker(c.System.SharedGroup)
	sup := supervisor.NewSystemd(controlTimeout(c))
	return installer.New(store, broker, sup, installerOptions(c))
}
