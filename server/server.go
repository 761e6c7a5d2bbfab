// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server drives the Modbus/TCP core: a single-threaded,
// single-suspension-point event loop that owns the listening socket, the
// set of open client sockets, and the termination fd, and dispatches
// every readable client to the ADU engine.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"modbus-shm-server/adu"
	"modbus-shm-server/bank"
	"modbus-shm-server/internal/addrfmt"
	"modbus-shm-server/notify"
	"modbus-shm-server/xpm"
)

// Outcome is the result of one RunCycle call.
type Outcome int

// RunCycle outcomes, mirroring the original run_t enum exactly: no two are
// ever returned from the same call.
const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
	OutcomeInterrupted
	OutcomeTermSignal
	OutcomeTermNoConn
	OutcomeSemaphore
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeTermSignal:
		return "term_signal"
	case OutcomeTermNoConn:
		return "term_nocon"
	case OutcomeSemaphore:
		return "semaphore"
	default:
		return "unknown"
	}
}

// client is one accepted connection: its fd and the peer address string
// used in log lines.
type client struct {
	fd   int
	addr string
}

// Server is the Modbus/TCP core. It is not safe for concurrent use: every
// method must be called from the single goroutine that drives RunCycle.
type Server struct {
	opts *options

	dir       *bank.Directory
	semaphore *xpm.Semaphore
	notifier  *notify.Notifier
	engine    adu.Engine

	// listenFile keeps the dup'd *os.File backing listenFD alive; letting
	// it be garbage-collected would close listenFD out from under us via
	// os.File's finalizer.
	listenFile *os.File
	listenFD   int
	termFD     int

	clients map[int]*client

	semErr xpm.ErrorCounter

	Metrics Metrics

	allowSigusr1 bool
}

// New builds a Server bound to dir for register access, optionally
// guarded by sem (nil disables the cross-process mutex), and notifying nf
// on every write. It does not open any sockets; call Listen next.
func New(dir *bank.Directory, sem *xpm.Semaphore, nf *notify.Notifier, allowSigusr1 bool, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Server{
		opts:         o,
		dir:          dir,
		semaphore:    sem,
		notifier:     nf,
		listenFD:     -1,
		termFD:       -1,
		clients:      make(map[int]*client),
		allowSigusr1: allowSigusr1,
	}
}

// Listen opens the listening socket and the termination fd. It must be
// called exactly once before RunCycle.
func (s *Server) Listen() error {
	host := s.opts.host
	if strings.EqualFold(host, "any") {
		host = ""
	}
	addr := net.JoinHostPort(host, s.opts.service)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("server: unexpected listener type %T", ln)
	}

	rawFile, err := tcpLn.File()
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: extract listener fd: %w", err)
	}
	// The dup'd fd keeps the bound+listening socket alive after we close
	// the *net.TCPListener wrapper; from here on we own its lifecycle via
	// raw syscalls exclusively.
	s.listenFile = rawFile
	s.listenFD = int(rawFile.Fd())
	ln.Close()

	termFD, err := newTerminationFD()
	if err != nil {
		s.listenFile.Close()
		s.listenFile = nil
		s.listenFD = -1
		return err
	}
	s.termFD = termFD

	listenAddr := addrfmt.ListenAddr(s.opts.host, servicePort(s.opts.service))
	s.opts.logger.Info(fmt.Sprintf("Listening on %s", listenAddr), zap.String("addr", listenAddr))
	return nil
}

func servicePort(service string) uint16 {
	n, err := strconv.Atoi(service)
	if err != nil || n < 0 || n > 65535 {
		return 0
	}
	return uint16(n)
}

// Close closes the listening socket, every client socket, and the
// termination fd. After Close the Server must not be used.
func (s *Server) Close() error {
	var firstErr error
	for fd := range s.clients {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.clients = make(map[int]*client)

	if s.listenFile != nil {
		if err := s.listenFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.listenFile = nil
		s.listenFD = -1
	}
	if s.termFD >= 0 {
		if err := unix.Close(s.termFD); err != nil && firstErr == nil {
			firstErr = err
		}
		s.termFD = -1
	}
	return firstErr
}

// RunCycle advances the server by exactly one multiplex round: it blocks
// in a single poll(2) call (up to timeout), then services whichever fds
// came back ready. It is the server's only suspension point.
func (s *Server) RunCycle(timeout time.Duration) (Outcome, error) {
	pollServer := len(s.clients) < s.opts.maxClients

	pfds := make([]unix.PollFd, 0, 2+len(s.clients))
	pfds = append(pfds, unix.PollFd{Fd: int32(s.termFD), Events: unix.POLLIN})
	if pollServer {
		pfds = append(pfds, unix.PollFd{Fd: int32(s.listenFD), Events: unix.POLLIN})
	}
	for fd := range s.clients {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	timeoutMS := int(timeout.Milliseconds())
	n, err := unix.Poll(pfds, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return OutcomeInterrupted, nil
		}
		return OutcomeOK, fmt.Errorf("server: poll: %w", err)
	}
	if n == 0 {
		return OutcomeTimeout, nil
	}

	// Termination fd.
	if pfds[0].Revents != 0 {
		if pfds[0].Revents&(unix.POLLNVAL|unix.POLLERR|unix.POLLHUP) != 0 {
			return OutcomeOK, fmt.Errorf("server: logic error: signalfd revents=%d", pfds[0].Revents)
		}
		info, err := readSignalInfo(s.termFD)
		if err != nil {
			return OutcomeOK, fmt.Errorf("server: read signalfd: %w", err)
		}

		if unix.Signal(info.Signo) == unix.SIGUSR1 && s.allowSigusr1 {
			pid := int(info.Pid)
			if addErr := s.notifier.Add(pid); addErr != nil {
				s.opts.logger.Warn("process registered for SIGUSR1 notifications failed",
					zap.Int("pid", pid), zap.Error(addErr))
			} else {
				s.opts.logger.Info("process registered for SIGUSR1 on write", zap.Int("pid", pid))
			}
			return OutcomeOK, nil
		}
		return OutcomeTermSignal, nil
	}

	idx := 1

	// Listening socket.
	if pollServer {
		pfd := pfds[idx]
		idx++
		if pfd.Revents != 0 {
			if pfd.Revents&(unix.POLLNVAL|unix.POLLHUP) != 0 {
				return OutcomeOK, fmt.Errorf("server: logic error: listener revents=%d", pfd.Revents)
			}
			if pfd.Revents&(unix.POLLIN|unix.POLLERR) != 0 {
				if err := s.acceptOne(); err != nil {
					s.opts.logger.Error("accept failed", zap.Error(err))
				}
			}
		}
	}

	for ; idx < len(pfds); idx++ {
		pfd := pfds[idx]
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		c := s.clients[fd]

		if pfd.Revents&unix.POLLNVAL != 0 {
			return OutcomeOK, fmt.Errorf("server: logic error: client %s revents=POLLNVAL", c.addr)
		}

		if pfd.Revents&unix.POLLHUP != 0 && pfd.Revents&unix.POLLERR == 0 {
			s.closeClient(fd)
			continue
		}

		if pfd.Revents&(unix.POLLIN|unix.POLLERR) != 0 {
			outcome, err := s.serviceClient(c)
			if err != nil {
				s.opts.logger.Error("request handling failed", zap.String("addr", c.addr), zap.Error(err))
			}
			if outcome == OutcomeSemaphore {
				return OutcomeSemaphore, nil
			}
		}
	}

	if !s.opts.reconnect && len(s.clients) == 0 {
		return OutcomeTermNoConn, nil
	}
	return OutcomeOK, nil
}

func (s *Server) acceptOne() error {
	fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_CLOEXEC)
	if err != nil {
		return fmt.Errorf("accept4: %w", err)
	}

	// A zero or negative tcpTimeout means "OS defaults": leave the
	// accepted socket's keepalive/user-timeout settings untouched.
	if s.opts.tcpTimeout > 0 {
		if err := setTCPTimeout(fd, s.opts.tcpTimeout); err != nil {
			unix.Close(fd)
			return err
		}
	}

	addr := addrfmt.Sockaddr(sa)
	s.clients[fd] = &client{fd: fd, addr: addr}
	s.Metrics.ActiveConns.Add(1)
	s.Metrics.TotalConns.Add(1)

	s.opts.logger.Info(fmt.Sprintf("[%d] Modbus Server (%s) established connection.", len(s.clients), addr),
		zap.Int("active", len(s.clients)), zap.String("addr", addr))
	return nil
}

func (s *Server) closeClient(fd int) {
	c := s.clients[fd]
	unix.Close(fd)
	delete(s.clients, fd)
	s.Metrics.ActiveConns.Add(-1)
	if c != nil {
		s.opts.logger.Info(fmt.Sprintf("[%d] Modbus server (%s) connection closed.", len(s.clients), c.addr),
			zap.Int("active", len(s.clients)), zap.String("addr", c.addr))
	}
}

// serviceClient performs exactly one request/response round on c: read
// one ADU, look up the bank, run it through the XPM/engine/notifier
// chain, and write the reply.
func (s *Server) serviceClient(c *client) (Outcome, error) {
	if err := setReadTimeout(c.fd, s.opts.byteTimeout); err != nil {
		s.closeClient(c.fd)
		return OutcomeOK, fmt.Errorf("set read timeout for %s: %w", c.addr, err)
	}

	reader := fdReader{fd: c.fd}
	if s.opts.responseTimeout > 0 {
		reader.deadline = time.Now().Add(s.opts.responseTimeout)
	}

	frame, err := adu.ReadFrame(reader)
	if err != nil {
		if err == adu.ErrPeerClosed {
			s.closeClient(c.fd)
			return OutcomeOK, nil
		}
		s.closeClient(c.fd)
		return OutcomeOK, err
	}

	s.Metrics.RequestsTotal.Add(1)

	b := s.dir.Lookup(frame.Header.UnitID)

	if s.semaphore != nil {
		if s.semaphore.TryAcquire(100 * time.Millisecond) {
			s.semErr.Success()
		} else {
			s.opts.logger.Warn("failed to acquire semaphore within 100ms")
			if s.semErr.Failure() {
				s.opts.logger.Error("repeatedly failed to acquire the semaphore")
				s.closeClient(c.fd)
				return OutcomeSemaphore, nil
			}
		}
	}

	replyPDU, fc, _ := s.engine.Apply(b, frame.PDU)

	if s.semaphore != nil {
		_ = s.semaphore.Release()
	}

	// The notifier fires on the requested function code regardless of
	// whether the codec answered it with data or an exception, and
	// before the reply is written to the wire.
	if fc.IsWrite() {
		s.Metrics.WritesNotified.Add(1)
		if err := s.notifier.Broadcast(int(fc)); err != nil {
			s.opts.logger.Warn("notifier broadcast failed", zap.Error(err))
		}
	}

	frame.PDU = replyPDU
	if _, err := (fdWriter{c.fd}).Write(frame.Encode()); err != nil {
		s.Metrics.RequestsErrors.Add(1)
		s.closeClient(c.fd)
		return OutcomeOK, fmt.Errorf("write reply to %s: %w", c.addr, err)
	}

	s.Metrics.RequestsSuccess.Add(1)
	return OutcomeOK, nil
}

// setTCPTimeout applies the mandatory keepalive tuning: probe after 1s
// idle, up to 5 probes, per-probe interval max(timeout/5, 1)s, and
// TCP_USER_TIMEOUT in milliseconds.
func setTCPTimeout(fd int, timeout time.Duration) error {
	secs := uint(timeout.Seconds())

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(timeout.Milliseconds())); err != nil {
		return fmt.Errorf("setsockopt TCP_USER_TIMEOUT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPIDLE: %w", err)
	}
	interval := secs / 5
	if interval < 1 {
		interval = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(interval)); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPINTVL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 5); err != nil {
		return fmt.Errorf("setsockopt TCP_KEEPCNT: %w", err)
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
}

// errResponseTimeout is returned by fdReader.Read once the response
// deadline passes without the rest of the ADU arriving.
var errResponseTimeout = errors.New("server: response timeout exceeded")

// setReadTimeout applies SO_RCVTIMEO to fd: the byte timeout, the maximum
// time a single read may block waiting for the next byte of an ADU
// already in flight. A zero or negative d disables the timeout (blocking
// reads), matching the kernel's own SO_RCVTIMEO{0,0} convention.
func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
	}
	return nil
}

// fdReader/fdWriter adapt a raw fd to io.Reader/io.Writer so adu.ReadFrame
// and Frame.Encode's output can be used without pulling in net.Conn for
// the data path; the server owns these fds directly and reads/writes them
// only after poll confirms readiness. A read can still block the
// single-threaded loop past that point, but only up to the configured
// byte timeout (via SO_RCVTIMEO) while a partial ADU is in flight, and
// deadline bounds the total time budget for the rest of the ADU once its
// first byte has arrived.
type fdReader struct {
	fd       int
	deadline time.Time // zero means no response-timeout deadline
}

func (r fdReader) Read(p []byte) (int, error) {
	if !r.deadline.IsZero() && time.Now().After(r.deadline) {
		return 0, errResponseTimeout
	}
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(w.fd, p[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
