// Package packageops composes push+exec sequences for install/uninstall/
// reboot (spec §4.8).
package packageops

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shangdawei/go-adb-client/internal/adberr"
	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/shell"
	"github.com/shangdawei/go-adb-client/internal/stream"
	"github.com/shangdawei/go-adb-client/internal/syncsvc"
)

const remoteTmpDir = "/data/local/tmp"

// Install pushes apkPath to /data/local/tmp/<basename>, runs
// `pm install -r <path>`, and removes the temporary file (spec §4.8).
func Install(dev *device.Device, apkPath string) (string, error) {
	remotePath := remoteTmpDir + "/" + filepath.Base(apkPath)

	if err := syncsvc.Push(dev, apkPath, remotePath, 0o644); err != nil {
		return "", err
	}

	out, err := shell.Run(dev, fmt.Sprintf("pm install -r %s", remotePath), false)
	// Best-effort cleanup regardless of install outcome, matching the
	// teacher's pattern of not letting a cleanup failure mask the primary
	// result (see internal/host/deployment.go's command sequencing).
	if _, rmErr := shell.Run(dev, fmt.Sprintf("rm %s", remotePath), false); rmErr != nil {
		if err == nil {
			return out, adberr.Wrap(adberr.KindSyncError, "failed to remove staged apk", rmErr)
		}
	}
	return out, err
}

// Uninstall runs `pm uninstall <pkg>` (spec §4.8).
func Uninstall(dev *device.Device, pkg string) (string, error) {
	return shell.Run(dev, fmt.Sprintf("pm uninstall %s", pkg), false)
}

// Reboot opens stream `reboot:` and awaits CLSE (spec §4.8).
func Reboot(dev *device.Device) error {
	return dev.WithStream("reboot:", func(s *stream.Stream) error {
		for {
			_, err := s.Read()
			if err != nil {
				if errors.Is(err, stream.ErrStreamClosed) {
					return nil
				}
				return err
			}
		}
	})
}
