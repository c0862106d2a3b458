package ringq

import (
	"time"

	"golang.org/x/sys/unix"
)

func newPoll(eventfd int) (*poll, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	pl := &poll{epfd: epfd, eventfd: eventfd}
	if err := pl.addRead(eventfd); err != nil {
		_ = pl.close()
		return nil, err
	}
	return pl, nil
}

// poll waits on the ring eventfd with a timeout, which the plain
// IO_URING_ENTER wait path cannot express.
type poll struct {
	epfd    int
	eventfd int
}

func (p *poll) addRead(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd,
		&unix.EpollEvent{
			Fd:     int32(fd),
			Events: unix.EPOLLIN,
		},
	)
}

func (p *poll) wait(timeout time.Duration) error {
	// epoll_wait has millisecond granularity, round up so the wait never
	// undershoots the requested duration
	msec := int((timeout + time.Millisecond - 1) / time.Millisecond)
	events := make([]unix.EpollEvent, 1)
	for {
		n, err := unix.EpollWait(p.epfd, events, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			// drain the counter, the eventfd is level triggered in epoll
			var buf [8]byte
			_, _ = unix.Read(p.eventfd, buf[:])
		}
		return nil
	}
}

func (p *poll) close() error {
	return unix.Close(p.epfd)
}
