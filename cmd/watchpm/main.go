package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/watchpm/pkg/client"
	"github.com/charlie0129/watchpm/pkg/daemon"
)

var (
	logLevel       = "info"
	unixSocketPath = "/var/run/watchpm.sock"
	configPath     = "/etc/watchpm.json"
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	gSimulator    = "Simulator:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
		gSimulator,
		gInstallation,
	}
)

// exitRestart tells the service manager to start the daemon again.
const exitRestart = 3

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: watchpm daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Have you installed it?")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or reinstall the daemon with the '--allow-non-root-access' flag to grant permissions to your user")
	} else if errors.Is(err, client.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "\nError: the daemon does not support this request")
		fmt.Fprintln(os.Stderr, "Make sure the client and daemon are the same version.")
	}
}

func main() {
	// The daemon is a handful of tickers; it does not need many threads.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, daemon.ErrRestart) {
			os.Exit(exitRestart)
		}
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchpm",
		Short: "watchpm manages power on a battery powered smartwatch",
		Long: `watchpm manages power on a battery powered smartwatch.

It dims the backlight and puts the watch into light or deep sleep after
inactivity, wakes it on button or touch, tracks battery and uptime, and
exposes all of it over a local HTTP API.

Website: https://github.com/charlie0129/watchpm
Report issues: https://github.com/charlie0129/watchpm/issues`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			// The daemon has nobody to compare versions with.
			if cmd.Name() == "daemon" || cmd.Name() == "install" || cmd.Name() == "uninstall" {
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. watchpm may not work as expected.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("watchpm daemon is too old to report its version.")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (.json or .yaml)")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "watchpm daemon unix socket path")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewBatteryCommand(),
		NewTouchCommand(),
		NewSleepCommand(),
		NewWakeCommand(),
		NewUptimeCommand(),
		NewHistoryCommand(),
		NewTileCommand(),
		NewConfigCommand(),
		NewChargingCommand(),
		NewBacklightCommand(),
		NewEventsCommand(),
		NewButtonCommand(),
		NewTouchScreenCommand(),
		NewUSBCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
