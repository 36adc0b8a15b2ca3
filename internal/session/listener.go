// Package session is the Listener/Session Layer described in the spec
// (§4.2): a single raw TCP listener, shared by clients and peers alike,
// that hands each accepted connection to its own goroutine. It speaks a
// newline-delimited line protocol and knows nothing about what a line
// means — that's the Handler's job.
//
// Modeled on HyperCache's resp server accept/handle-connection split
// (internal/network/resp-server.go), trimmed down from RESP framing to
// the spec's plain line protocol and given session-scoped correlation IDs
// for logging.
package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// bufferSize is the minimum read buffer the spec requires per connection
// (§4.2): at least 4KiB so a single SET of a reasonably sized JSON value
// doesn't require multiple reads to land in the scanner.
const bufferSize = 4096

// Handler processes one decoded request line and returns the response
// line to write back (without a trailing newline). Returning shutdown
// true tells the Listener to stop accepting new connections once this
// one closes.
type Handler interface {
	Handle(line string) (response string, shutdown bool)
}

// Listener owns the shared TCP socket and the lifetime of every session
// spawned from it.
type Listener struct {
	addr    string
	handler Handler
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	ln       net.Listener
	stopping atomic.Bool
	wg       sync.WaitGroup
}

// New creates a Listener bound to addr (host:port). It does not start
// accepting connections until Start is called.
func New(addr string, handler Handler, logger *zap.SugaredLogger) *Listener {
	return &Listener{addr: addr, handler: handler, logger: logger}
}

// Start opens the socket and begins accepting connections in the
// background. It returns once the socket is listening, not once it's
// closed.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

// Close stops accepting new connections. In-flight sessions are left to
// finish their current request and close on their own — the spec does
// not ask for a hard drain on shutdown.
func (l *Listener) Close() error {
	l.stopping.Store(true)
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Wait blocks until the accept loop has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.stopping.Load() {
				return
			}
			l.logger.Warnw("accept failed", "err", err)
			continue
		}
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer conn.Close()

	sessionID := uuid.NewString()
	log := l.logger.With("session", sessionID, "remote", conn.RemoteAddr().String())
	log.Debugw("session opened")
	defer log.Debugw("session closed")

	reader := bufio.NewReaderSize(conn, bufferSize)
	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return
		}
		if line == "" {
			continue
		}

		resp, shutdown := l.handler.Handle(line)
		if resp != "" {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, werr := conn.Write([]byte(resp + "\n")); werr != nil {
				log.Debugw("write failed", "err", werr)
				return
			}
		}

		if err != nil {
			// ReadString returns the trailing partial line alongside the
			// error (typically io.EOF) when the peer closes without a
			// final newline; we've already answered it above.
			return
		}

		if shutdown {
			l.Close()
			return
		}
	}
}

const writeTimeout = 5 * time.Second
