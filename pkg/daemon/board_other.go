//go:build !linux

package daemon

import (
	"runtime"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/watchpm/pkg/config"
)

func openLinuxBoard(config.Config) (Board, error) {
	return nil, pkgerrors.Errorf("the linux board is not available on %s", runtime.GOOS)
}
