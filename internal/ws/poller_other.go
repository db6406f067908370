//go:build !linux

package ws

import (
	"net"
	"sync"
	"syscall"
	"time"
)

// Poller on non-Linux platforms falls back to one monitor goroutine per
// connection. It exists so the server can be developed on macOS/Windows;
// production deployments run the epoll implementation.
type Poller struct {
	mu      sync.RWMutex
	conns   map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewPoller creates the goroutine-based fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection by spawning a goroutine that waits for read
// readiness without consuming any bytes.
func (p *Poller) Add(conn net.Conn) error {
	stop := make(chan struct{})

	p.mu.Lock()
	p.conns[conn] = stop
	p.mu.Unlock()

	go p.monitor(conn, stop)
	return nil
}

// monitor signals readiness whenever the socket becomes readable, using the
// raw syscall connection so no payload bytes are consumed. Level-triggered
// like epoll: the processing flag on the connection absorbs duplicate
// signals while a worker is mid-read.
func (p *Poller) monitor(conn net.Conn, stop chan struct{}) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-p.done:
			return
		default:
		}

		waited := false
		err := raw.Read(func(fd uintptr) bool {
			if waited {
				return true
			}
			waited = true
			return false // block until the fd is readable
		})
		if err != nil {
			// Closed or errored: signal once so the read path observes
			// the closure and cleans up.
			select {
			case p.readyCh <- conn:
			case <-p.done:
			}
			return
		}

		select {
		case p.readyCh <- conn:
		case <-stop:
			return
		case <-p.done:
			return
		}

		// Give the worker a moment to drain before re-checking readiness,
		// otherwise a slow worker turns this loop into a busy spin.
		select {
		case <-time.After(time.Millisecond):
		case <-stop:
			return
		case <-p.done:
			return
		}
	}
}

// Remove unregisters a connection and stops its monitor goroutine.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	if stop, ok := p.conns[conn]; ok {
		close(stop)
		delete(p.conns, conn)
	}
	p.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready, then drains whatever
// else is queued without blocking.
func (p *Poller) Wait() ([]net.Conn, error) {
	select {
	case <-p.done:
		return nil, net.ErrClosed
	case first := <-p.readyCh:
		conns := []net.Conn{first}
		for {
			select {
			case conn := <-p.readyCh:
				conns = append(conns, conn)
			default:
				return conns, nil
			}
		}
	}
}

// Close shuts down the fallback poller and all monitor goroutines.
func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// socketFD has no meaning without epoll; the fallback tracks connections by
// value instead.
func socketFD(conn net.Conn) int {
	return -1
}
