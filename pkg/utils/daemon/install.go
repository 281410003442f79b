// Package daemon installs the watchpm daemon as a systemd service.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/sirupsen/logrus"
)

const serviceName = "watchpm.service"

var (
	unitPath = "/etc/systemd/system/" + serviceName
	// systemctl is replaced in tests.
	systemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %v: %w: %s", args, err, bytes.TrimSpace(out))
		}
		return nil
	}
)

// Exit code 3 from the daemon is a requested restart (power off or long
// press), so it is restarted without counting as a failure.
var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=watchpm smartwatch power manager
After=local-fs.target

[Service]
Type=simple
ExecStart={{ .Exe }} daemon --config {{ .Config }} --daemon-socket {{ .Socket }}
Restart=always
RestartSec=1
SuccessExitStatus=3

[Install]
WantedBy=multi-user.target
`))

// UnitOptions fill the unit template.
type UnitOptions struct {
	Exe    string
	Config string
	Socket string
}

// RenderUnit returns the unit file for o.
func RenderUnit(o UnitOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, o); err != nil {
		return nil, fmt.Errorf("failed to render unit: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit for the current executable, then enables and
// starts it.
func Install(configPath, socketPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	err = os.Chmod(exePath, 0755)
	if err != nil {
		return fmt.Errorf("failed to chmod the current executable to 0755: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unit, err := RenderUnit(UnitOptions{Exe: exePath, Config: configPath, Socket: socketPath})
	if err != nil {
		return err
	}

	logrus.Infof("writing systemd unit to %s", unitPath)

	err = os.MkdirAll(filepath.Dir(unitPath), 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
	}

	// warn if the file already exists
	_, err = os.Stat(unitPath)
	if err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, unit, 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting watchpm")

	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", serviceName)
}
