package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/watchpm/pkg/client"
	"github.com/charlie0129/watchpm/pkg/version"
)

func newClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = newClient().GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func logResponse(ret string) {
	if ret != "" {
		logrus.Infof("daemon responded: %s", ret)
	}
}

func newEnableDisableCommand(
	use, short, long, group string,
	enableFunc func() (string, error),
	disableFunc func() (string, error),
) *cobra.Command {
	return newOnOffCommand(use, short, long, group, "enable", "disable", enableFunc, disableFunc)
}

func newOnOffCommand(
	use, short, long, group string,
	onVerb, offVerb string,
	onFunc func() (string, error),
	offFunc func() (string, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: group,
	}

	sub := func(verb string, f func() (string, error)) *cobra.Command {
		return &cobra.Command{
			Use:   verb,
			Short: fmt.Sprintf("%s (%s)", short, verb),
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := f()
				if err != nil {
					return fmt.Errorf("failed to %s %s: %w", verb, use, err)
				}
				logResponse(ret)
				logrus.Infof("successfully ran %s %s", use, verb)
				return nil
			},
		}
	}

	cmd.AddCommand(sub(onVerb, onFunc), sub(offVerb, offFunc))

	return cmd
}
