package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/config"
	"github.com/luigi-project/hearth/installer"
	"github.com/luigi-project/hearth/loggers/cli"
	"github.com/luigi-project/hearth/permissions"
	"github.com/luigi-project/hearth/registry"
	"github.com/luigi-project/hearth/router"
	"github.com/luigi-project/hearth/status"
	"github.com/luigi-project/hearth/supervisor"
	"github.com/luigi-project/hearth/system"
	"github.com/luigi-project/hearth/updates"
)

var (
	configPath = config.DefaultLocation
	debug      = false
)

var rootCommand = &cobra.Command{
	Use:   "hearth",
	Short: "Runs the administrative daemon for the hearth module platform.",
	PreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
		initLogging()
		if debug {
			log.Debug("running in debug mode")
		}
	},
	Run: rootCmdRun,
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run hearth in debug mode")

	rootCommand.AddCommand(newListCommand())
	rootCommand.AddCommand(newInfoCommand())
	rootCommand.AddCommand(newCheckUpdatesCommand())
	rootCommand.AddCommand(newInstallCommand())
	rootCommand.AddCommand(newRemoveCommand())
	rootCommand.AddCommand(newVersionCommand())
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log.WithField("error", err).Fatal("failed to execute command")
	}
}

// initConfig reads the configuration from the disk. A missing file is not
// fatal: the built-in defaults keep the helper commands usable on a host
// that has not been configured yet.
func initConfig() {
	if err := config.FromFile(configPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.WithField("error", err).Fatal("failed to read configuration file")
		}
		log.WithField("path", configPath).Warn("no configuration file found, using defaults")
	}
	if debug {
		config.SetDebugViaFlag(true)
	}
	if err := config.ConfigureTimezone(); err != nil {
		log.WithField("error", err).Fatal("failed to configure timezone")
	}
}

// initLogging sets up the daemon's log output: colorized console plus a
// rotatable file under the configured log directory.
func initLogging() {
	dir := config.Get().System.LogDirectory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithField("error", err).Fatal("cmd: failed to create log directory")
	}
	p := filepath.Join(dir, "hearth.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		log.WithField("error", err).Fatal("cmd: failed to open log file")
	}
	log.SetLevel(log.InfoLevel)
	if config.Get().Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(cli.Default, cli.New(w.File, false)))
	log.WithField("path", p).Info("writing log files to disk")
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
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
	agg := status.New(store, sup, supervisor.HostProcessTable{}, controlTimeout(c))
	defer agg.Close()
	checker := updates.New(store, c.System.ModulesDirectory)
	inst := installer.New(store, broker, sup, installerOptions(c))

	// Boot-time advisory pass: make sure the shared group exists before the
	// first install request needs it.
	if err := broker.EnsureSharedGroup(cmd.Context()); err != nil {
		log.WithField("error", err).Warn("shared group setup failed, continuing anyway")
	}

	s := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port),
		Handler: router.Configure(store, agg, checker, inst),
	}

	go func() {
		log.WithFields(log.Fields{"host": c.Api.Host, "port": c.Api.Port, "version": system.Version}).Info("hearth admin api listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("failed to start admin api server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.WithField("error", err).Warn("failed to shut down server cleanly")
	}
}

// buildStore opens the registry store with the configured roots.
func buildStore() (*registry.Store, error) {
	c := config.Get()
	return registry.New(c.System.RegistryDirectory, c.System.ConfigDirectory, c.System.LogDirectory)
}

func controlTimeout(c *config.Configuration) time.Duration {
	return time.Duration(c.System.ControlTimeout) * time.Second
}

func installerOptions(c *config.Configuration) installer.Options {
	return installer.Options{
		ModulesRoot:       c.System.ModulesDirectory,
		HomeRoot:          filepath.Join(c.System.RootDirectory, "modules"),
		ServiceUserPrefix: c.System.ServiceUserPrefix,
		HardwareGroups:    c.System.HardwareGroups,
	}
}
