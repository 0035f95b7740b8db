//go:build linux

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// epollReader multiplexes several input devices in one goroutine.
//
// Instead of one goroutine blocked in read() per device, the kernel wakes us only
// when a device has data. An eventfd is registered next to the devices so Stop
// can interrupt epoll_wait without closing anything under the reader.
type epollReader struct {
	epfd   int
	wakefd int

	mu    sync.Mutex
	files map[int]*os.File

	onEvent func(dev string, ev inputEvent)
	onError func(dev string, err error)

	done     chan struct{}
	stopOnce sync.Once
}

// newEpollReader registers files for reading. onEvent is called from the reader
// goroutine for every decoded event; onError when a device is dropped.
func newEpollReader(files []*os.File, onEvent func(string, inputEvent), onError func(string, error)) (*epollReader, error) {
	if len(files) == 0 {
		return nil, errors.New("no input devices provided")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	r := &epollReader{
		epfd:    epfd,
		wakefd:  wakefd,
		files:   make(map[int]*os.File, len(files)),
		onEvent: onEvent,
		onError: onError,
		done:    make(chan struct{}),
	}

	if err := r.add(wakefd); err != nil {
		r.closeFds()
		return nil, err
	}
	for _, f := range files {
		fd := int(f.Fd())
		if err := r.add(fd); err != nil {
			r.closeFds()
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		r.files[fd] = f
	}
	return r, nil
}

func (r *epollReader) add(fd int) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}
	return nil
}

// Run blocks until Stop is called. Devices that hang up or fail are removed one by
// one; the loop keeps serving the rest.
func (r *epollReader) Run() {
	defer close(r.done)

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, inputEventSize*64)
	decoded := make([]inputEvent, 0, 64)

	for {
		n, err := unix.EpollWait(r.epfd, epollEvents, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			r.reportError("epoll", fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == r.wakefd {
				return
			}

			r.mu.Lock()
			f := r.files[fd]
			r.mu.Unlock()
			if f == nil {
				continue
			}

			if epollEvents[i].Events&unix.EPOLLIN != 0 {
				m, err := unix.Read(fd, buf)
				switch {
				case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
					continue
				case err != nil:
					r.drop(fd, f, fmt.Errorf("read: %w", err))
					continue
				case m == 0:
					r.drop(fd, f, errors.New("end of file"))
					continue
				}
				decoded = decodeInputEvents(buf[:m], decoded[:0])
				for _, ev := range decoded {
					r.onEvent(f.Name(), ev)
				}
				continue
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				r.drop(fd, f, errors.New("device error/hangup"))
			}
		}
	}
}

// drop removes one device from the interest list. The file itself belongs to the
// caller and is closed by its own cleanup.
func (r *epollReader) drop(fd int, f *os.File, err error) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	r.mu.Lock()
	delete(r.files, fd)
	r.mu.Unlock()
	r.reportError(f.Name(), err)
}

func (r *epollReader) reportError(dev string, err error) {
	if r.onError != nil {
		r.onError(dev, err)
	}
}

// Devices returns how many devices are still being read.
func (r *epollReader) Devices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// Stop wakes the reader, waits for Run to return and releases the epoll and
// eventfd descriptors. Safe to call more than once. Run must have been started.
func (r *epollReader) Stop() {
	r.stopOnce.Do(func() {
		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		_, _ = unix.Write(r.wakefd, one[:])
		<-r.done
		r.closeFds()
	})
}

func (r *epollReader) closeFds() {
	unix.Close(r.wakefd)
	unix.Close(r.epfd)
}
