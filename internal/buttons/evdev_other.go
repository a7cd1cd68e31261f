//go:build !linux

package buttons

import (
	"fmt"
	"io"
	"os"
)

// readEvents reads each device on its own goroutine. It returns the first
// read error, or nil once stop is closed.
func readEvents(files []*os.File, stop <-chan struct{}, apply func(inputEvent)) error {
	events := make(chan inputEvent)
	errs := make(chan error, len(files))
	for _, f := range files {
		go func(f *os.File) {
			buf := make([]byte, eventSize)
			for {
				if _, err := io.ReadFull(f, buf); err != nil {
					errs <- fmt.Errorf("read %s: %w", f.Name(), err)
					return
				}
				select {
				case events <- decodeEvent(buf):
				case <-stop:
					return
				}
			}
		}(f)
	}

	for {
		select {
		case <-stop:
			return nil
		case err := <-errs:
			return err
		case ev := <-events:
			apply(ev)
		}
	}
}
