// Package shell implements ShellService: issue `shell:<cmd>` OPEN, stream
// stdout until CLSE (spec §4.6).
package shell

import (
	"errors"
	"fmt"
	"log"

	"github.com/shangdawei/go-adb-client/internal/device"
	"github.com/shangdawei/go-adb-client/internal/stream"
)

// Run executes cmd on dev and returns its concatenated stdout. If
// echoOutput is true, each chunk is also logged as it arrives. A device
// that answers OPEN with CLSE fails with adberr.KindStreamRefused, the
// error stream.OpenStream returns; there is no separate shell-specific kind.
func Run(dev *device.Device, cmd string, echoOutput bool) (string, error) {
	var output []byte

	err := dev.WithStream(fmt.Sprintf("shell:%s", cmd), func(s *stream.Stream) error {
		for {
			chunk, err := s.Read()
			if err != nil {
				if errors.Is(err, stream.ErrStreamClosed) {
					// The device is done sending stdout.
					return nil
				}
				return err
			}
			output = append(output, chunk...)
			if echoOutput {
				log.Printf("shell: %s", chunk)
			}
		}
	})
	if err != nil {
		return "", err
	}
	return string(output), nil
}
