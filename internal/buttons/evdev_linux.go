//go:build linux

package buttons

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// epollTimeoutMs bounds each epoll_wait so the reader notices stop.
const epollTimeoutMs = 200

// readEvents multiplexes all devices on one epoll instance and calls apply
// for every decoded event until stop is closed or a device fails.
func readEvents(files []*os.File, stop <-chan struct{}, apply func(inputEvent)) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	byFd := make(map[int32]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		byFd[int32(fd)] = f
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl add %s: %w", f.Name(), err)
		}
	}

	ready := make([]unix.EpollEvent, 16)
	buf := make([]byte, eventSize)
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, ready, epollTimeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			f := byFd[ready[i].Fd]
			if ready[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("input device %s: error or hangup", f.Name())
			}
			if _, err := f.Read(buf); err != nil {
				return fmt.Errorf("read %s: %w", f.Name(), err)
			}
			apply(decodeEvent(buf))
		}
	}
}
