package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/watchpm/pkg/config"
)

// NewConfigCommand .
func NewConfigCommand() *cobra.Command {
	output := "yaml"

	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or change daemon configuration",
		GroupID: gAdvanced,
		Long: fmt.Sprintf(`Show or change daemon configuration.

Without a subcommand the effective configuration is printed. Available keys:
  %s`, strings.Join(config.Keys(), "\n  ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := newClient().GetConfig()
			if err != nil {
				return err
			}
			return printConfig(cmd, conf, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", output, "Output format (yaml, json).")

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a single configuration key",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
			return config.Keys(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := newClient().GetConfig()
			if err != nil {
				return err
			}
			v, err := configValue(conf, args[0])
			if err != nil {
				return err
			}
			cmd.Println(v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a single configuration key",
		Long: `Set a single configuration key.

The value is parsed as JSON when possible, so numbers and booleans can be given
as is. The daemon validates the change, applies it at once and saves it to the
config file.`,
		Args: cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.Keys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := newClient().SetConfig(args[0], args[1]); err != nil {
				return fmt.Errorf("failed to set %s: %w", args[0], err)
			}
			logrus.WithFields(logrus.Fields{
				"key":   args[0],
				"value": args[1],
			}).Info("config updated")
			return nil
		},
	})

	return cmd
}

func printConfig(cmd *cobra.Command, conf *config.RawFileConfig, output string) error {
	var (
		b   []byte
		err error
	)
	switch output {
	case "json":
		b, err = json.MarshalIndent(conf, "", "  ")
		b = append(b, '\n')
	case "yaml":
		b, err = yaml.Marshal(conf)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
	if err != nil {
		return err
	}
	cmd.Print(string(b))
	return nil
}

// configValue returns the JSON text of key in conf.
func configValue(conf *config.RawFileConfig, key string) (string, error) {
	b, err := json.Marshal(conf)
	if err != nil {
		return "", err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &m); err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	return string(v), nil
}

// NewChargingCommand .
func NewChargingCommand() *cobra.Command {
	return newEnableDisableCommand(
		"charging",
		"Battery charging",
		`Enable or disable battery charging in the PMU.

When disabled the watch still runs from USB power but the battery is not charged.`,
		gAdvanced,
		func() (string, error) { return newClient().SetCharging(true) },
		func() (string, error) { return newClient().SetCharging(false) },
	)
}

// NewBacklightCommand .
func NewBacklightCommand() *cobra.Command {
	return newOnOffCommand(
		"backlight",
		"Display backlight",
		`Turn the display backlight on or off by hand.

The power manager takes over again on the next activity or timeout.`,
		gAdvanced,
		"on", "off",
		func() (string, error) { return newClient().SetBacklight(true) },
		func() (string, error) { return newClient().SetBacklight(false) },
	)
}

// NewEventsCommand .
func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Follow power events",
		GroupID: gAdvanced,
		Long: `Follow power events from the daemon until interrupted.

Each line is the event name followed by its JSON payload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			ch := newClient().SubscribeEvents(ctx)
			for ev := range ch {
				cmd.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), bold("%s", ev.Name), string(ev.Data))
			}
			if ctx.Err() == nil {
				return fmt.Errorf("event stream closed by daemon")
			}
			return nil
		},
	}
}
