package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/watchpm/pkg/types"
	"github.com/charlie0129/watchpm/pkg/version"
)

// NewVersionCommand .
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Print version",
		GroupID: gBasic,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
			if v, err := newClient().GetVersion(); err == nil {
				cmd.Printf("daemon: %s\n", v)
			}
		},
	}
}

// NewTouchCommand .
func NewTouchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "touch",
		Short:   "Report user activity",
		GroupID: gBasic,
		Long: `Report user activity to the daemon.

This resets the inactivity clock exactly like a tap on the screen would: the
backlight comes back on and the sleep timers start over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newClient().Touch()
			if err != nil {
				return err
			}
			cmd.Printf("state: %s\n", bold("%s", s.State))
			return nil
		},
	}
}

// NewSleepCommand .
func NewSleepCommand() *cobra.Command {
	deep := false

	cmd := &cobra.Command{
		Use:     "sleep",
		Short:   "Put the watch to sleep now",
		GroupID: gBasic,
		Long: `Put the watch to sleep now, without waiting for the inactivity timeout.

Light sleep is used unless --deep is given. A deep sleep powers the watch off;
it comes back with a fresh boot.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newClient().Sleep(deep)
			if err != nil {
				return fmt.Errorf("failed to request sleep: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "Enter deep sleep instead of light sleep.")

	return cmd
}

// NewWakeCommand .
func NewWakeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "wake",
		Short:   "Wake the watch up",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newClient().Wake()
			if err != nil {
				return fmt.Errorf("failed to wake: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}
}

// NewUptimeCommand .
func NewUptimeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "uptime",
		Short:   "Show uptime across boots",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newClient().GetUptime()
			if err != nil {
				return err
			}
			cmd.Printf("Current uptime: %s\n", bold("%s", time.Duration(s.CurrentUptimeSec)*time.Second))
			cmd.Printf("Total uptime: %s\n", bold("%s", time.Duration(s.TotalUptimeSec)*time.Second))
			cmd.Printf("Boot count: %s\n", bold("%d", s.BootCount))
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset total uptime and boot count",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newClient().ResetUptime()
			if err != nil {
				return fmt.Errorf("failed to reset uptime: %w", err)
			}
			logResponse(ret)
			logrus.Info("uptime statistics reset")
			return nil
		},
	})

	return cmd
}

// NewHistoryCommand .
func NewHistoryCommand() *cobra.Command {
	last := time.Duration(0)

	cmd := &cobra.Command{
		Use:     "history",
		Short:   "Show recent light sleeps",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := newClient().GetHistory(last)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				cmd.Println("No light sleeps recorded.")
				return nil
			}

			var total time.Duration
			for _, r := range recs {
				total += r.Duration
				wakers := ""
				if r.Button {
					wakers += " button"
				}
				if r.Touch {
					wakers += " touch"
				}
				cmd.Printf("  %s  slept %s  woken by %s%s\n",
					r.Start.Local().Format(time.DateTime),
					bold("%s", r.Duration.Round(time.Millisecond)),
					r.Cause, wakers)
			}
			cmd.Printf("%d sleeps, %s in total\n", len(recs), bold("%s", total.Round(time.Second)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&last, "last", 0, "Only show sleeps that started within this duration, e.g. 1h.")

	return cmd
}

// NewTileCommand .
func NewTileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tile",
		Short:   "Show or change the current UI tile",
		GroupID: gBasic,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := newClient().GetTile()
			if err != nil {
				return err
			}
			cmd.Printf("Tile: %s (row %d, col %d)\n", bold("%s", t.Name()), t.Row, t.Col)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <row>",
		Short: "Switch to the tile in the given row",
		Long: fmt.Sprintf(`Switch to the tile in the given row.

Rows are 0 to %d. Row 0 is the watch face.`, types.TileRows-1),
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			row, err := parseIntArg(args, "row")
			if err != nil {
				return err
			}
			t := types.Tile{Row: row}
			if !t.Valid() {
				return fmt.Errorf("row must be between 0 and %d", types.TileRows-1)
			}
			ret, err := newClient().SetTile(t)
			if err != nil {
				return fmt.Errorf("failed to set tile: %w", err)
			}
			logResponse(ret)
			logrus.Infof("switched to %s", t.Name())
			return nil
		},
	})

	return cmd
}

// NewBatteryCommand .
func NewBatteryCommand() *cobra.Command {
	raw := false

	cmd := &cobra.Command{
		Use:     "battery",
		Short:   "Read the battery now",
		GroupID: gBasic,
		Long: `Read the battery now.

The reading goes through the retrying path unless --raw is given, in which case
each PMU register is read once and failures are reported as is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := newClient()
			if raw {
				r, err := c.GetRawBattery()
				if err != nil {
					return err
				}
				cmd.Printf("Voltage: %s%s\n", bold("%d mV", r.VoltageMV), errSuffix(r.VoltageErr))
				cmd.Printf("Charging: %s%s\n", bool2Text(r.Charging), errSuffix(r.ChargingErr))
				cmd.Printf("USB power: %s%s\n", bool2Text(r.VBUSPresent), errSuffix(r.VBUSErr))
				return nil
			}

			r, err := c.GetBattery()
			if err != nil {
				return err
			}
			printBattery(cmd, r)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Read PMU registers once without retries or fallbacks.")

	return cmd
}

func errSuffix(msg string) string {
	if msg == "" {
		return ""
	}
	return " " + color.RedString("(%s)", msg)
}
