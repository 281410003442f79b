//go:build linux

package daemon

import (
	"github.com/charlie0129/watchpm/pkg/config"
	"github.com/charlie0129/watchpm/pkg/platform/linux"
)

func openLinuxBoard(conf config.Config) (Board, error) {
	button, err := config.PinNumber(conf.ButtonPin())
	if err != nil {
		return nil, err
	}
	touch, err := config.PinNumber(conf.TouchPin())
	if err != nil {
		return nil, err
	}

	return linux.Open(linux.Config{
		I2CBus:       conf.I2CBus(),
		ButtonPin:    conf.ButtonPin(),
		TouchPin:     conf.TouchPin(),
		BacklightPin: conf.BacklightPin(),
		ButtonGPIO:   button,
		TouchGPIO:    touch,
	})
}
