package main

import (
	"encoding/json"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/sleep"
	"github.com/charlie0129/watchpm/pkg/telemetry"
	"github.com/charlie0129/watchpm/pkg/types"
)

type statusData struct {
	Status *types.Status         `json:"status"`
	Config *config.RawFileConfig `json:"config"`
}

func fetchStatusData() (*statusData, error) {
	c := newClient()
	st, err := c.GetStatus()
	if err != nil {
		return nil, err
	}
	conf, err := c.GetConfig()
	if err != nil {
		return nil, err
	}
	return &statusData{Status: st, Config: conf}, nil
}

// NewStatusCommand .
func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of watchpm",
		Long:    `Get the power state, battery, uptime and configuration of watchpm.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(data, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			st := data.Status
			conf := config.NewFileFromConfig(data.Config, "")

			cmd.Println(bold("Power status:"))
			cmd.Printf("  State: %s\n", stateText(st.State))
			cmd.Printf("  Backlight: %s\n", bool2Text(st.BacklightOn))
			cmd.Printf("  Inactive for: %s\n", bold("%s", msText(st.InactiveMs)))
			if conf.TouchResetTimer() {
				cmd.Printf("  User inactive for: %s\n", bold("%s", msText(st.UserInactiveMs)))
			}
			cmd.Printf("  USB connected: %s\n", bool2Text(st.USBConnected))
			cmd.Printf("  Last sleep: %s\n", bold("%s", st.LastSleepKind))
			if st.WakePending {
				cmd.Printf("  Wake pending: %s\n", bool2Text(true))
			}
			if st.SuspendedTimers > 0 {
				cmd.Printf("  Suspended timers: %s\n", bold("%d", st.SuspendedTimers))
			}
			cmd.Printf("  Screen: %s\n", bold("%s", st.Tile.Name()))
			cmd.Printf("  Board: %s\n", bold("%s", st.Board))

			cmd.Println()

			if st.Battery != nil {
				printBattery(cmd, st.Battery)
				cmd.Println()
			}

			if st.Uptime != nil {
				cmd.Println(bold("Uptime:"))
				cmd.Printf("  Current: %s\n", bold("%s", time.Duration(st.Uptime.CurrentUptimeSec)*time.Second))
				cmd.Printf("  Total: %s over %s boots\n",
					bold("%s", time.Duration(st.Uptime.TotalUptimeSec)*time.Second),
					bold("%d", st.Uptime.BootCount))
				cmd.Println()
			}

			cmd.Println(bold("Power configuration:"))
			cmd.Printf("  Backlight timeout: %s\n", timeoutText(conf.BacklightControl(), conf.BacklightTimeout()))
			cmd.Printf("  Light sleep timeout: %s\n", timeoutText(conf.LightSleepEnable(), conf.SleepTimeout()))
			cmd.Printf("  Deep sleep timeout: %s\n", timeoutText(conf.DeepSleepEnable(), conf.DeepSleepTimeout()))
			cmd.Printf("  Wake on button: %s\n", bool2Text(conf.GPIOWakeup()))
			cmd.Printf("  Wake on touch: %s\n", bool2Text(conf.TouchWakeup()))
			cmd.Printf("  Stay awake on USB: %s\n", bool2Text(conf.PreventSleepOnUSB()))
			cmd.Printf("  Keep screen on with USB: %s\n", bool2Text(conf.PreventScreenOffOnUSB()))
			cmd.Printf("  No deep sleep on USB: %s\n", bool2Text(conf.PreventDeepSleepOnUSB()))
			cmd.Printf("  Pause UI timers in sleep: %s\n", bool2Text(conf.TimerPause()))
			cmd.Printf("  Suspend WiFi in sleep: %s\n", bool2Text(conf.WiFiSuspend()))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON.")

	return cmd
}

func printBattery(cmd *cobra.Command, r *telemetry.Reading) {
	cmd.Println(bold("Battery status:"))

	pct := bold("%d%%", r.Percent)
	switch {
	case !r.PercentValid:
		pct = color.YellowString("%d%% (estimated)", r.Percent)
	case r.Percent <= 15:
		pct = color.New(color.Bold, color.FgRed).Sprintf("%d%%", r.Percent)
	}
	cmd.Printf("  Current charge: %s\n", pct)

	state := "not charging"
	if r.Charging {
		state = color.GreenString("charging")
	} else if !r.VBUSPresent {
		state = color.RedString("discharging")
	}
	cmd.Printf("  State: %s\n", bold("%s", state))
	cmd.Printf("  Voltage: %s\n", bold("%.2f V", float64(r.VoltageMV)/1e3))
	cmd.Printf("  USB power: %s\n", bool2Text(r.VBUSPresent))
	if r.Fallbacks != 0 {
		cmd.Printf("  Defaults used for: %s\n", color.YellowString("%s", r.Fallbacks))
	}
}

func stateText(s sleep.State) string {
	switch s {
	case sleep.Awake:
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	case sleep.LightSleep, sleep.DeepSleep:
		return color.New(color.Bold, color.FgBlue).Sprint(s)
	default:
		return bold("%s", s)
	}
}

func msText(ms uint32) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func timeoutText(enabled bool, d time.Duration) string {
	if !enabled {
		return color.New(color.Bold, color.FgRed).Sprint("disabled")
	}
	return bold("%s", d)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
