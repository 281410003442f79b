package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewButtonCommand .
func NewButtonCommand() *cobra.Command {
	hold := time.Duration(0)

	cmd := &cobra.Command{
		Use:     "button",
		Short:   "Press the simulated side button",
		GroupID: gSimulator,
		Long: `Press the simulated side button.

A short tap returns to the watch face. Holding it for 3 seconds or more
restarts the daemon. Only works with the simulated board.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newClient().PressButton(hold)
			if err != nil {
				return fmt.Errorf("failed to press button: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}

	cmd.Flags().DurationVar(&hold, "hold", 0, "How long to hold the button, e.g. 4s.")

	return cmd
}

// NewTouchScreenCommand .
func NewTouchScreenCommand() *cobra.Command {
	hold := time.Duration(0)

	cmd := &cobra.Command{
		Use:     "tap",
		Short:   "Tap the simulated touch screen",
		GroupID: gSimulator,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := newClient().TouchScreen(hold)
			if err != nil {
				return fmt.Errorf("failed to touch screen: %w", err)
			}
			logResponse(ret)
			return nil
		},
	}

	cmd.Flags().DurationVar(&hold, "hold", 0, "How long to keep the touch line asserted.")

	return cmd
}

// NewUSBCommand .
func NewUSBCommand() *cobra.Command {
	cmd := newOnOffCommand(
		"usb",
		"Simulated USB power",
		`Plug or unplug simulated USB power.

Only works with the simulated board.`,
		gSimulator,
		"plug", "unplug",
		func() (string, error) { return newClient().SetUSB(true) },
		func() (string, error) { return newClient().SetUSB(false) },
	)
	return cmd
}
