package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ccrisan/streameye/internal/servicelog"
)

const (
	// RequestBufLen bounds the request header read, matching REQ_BUF_LEN.
	RequestBufLen = 4096
	// boundary is the multipart separator advertised and written.
	boundary = "--FrameBoundary"
	// maxMethodLen, maxURILen and maxVersionLen bound the request
	// line fields, matching the original's sscanf("%9s %1023s %9s").
	maxMethodLen  = 9
	maxURILen     = 1023
	maxVersionLen = 9
)

var responseOKHeader = "" +
	"HTTP/1.1 200 OK\r\n" +
	"Server: streamEye/" + Version + "\r\n" +
	"Connection: close\r\n" +
	"Max-Age: 0\r\n" +
	"Expires: 0\r\n" +
	"Cache-Control: no-cache, private\r\n" +
	"Pragma: no-cache\r\n" +
	"Content-Type: multipart/x-mixed-replace; boundary=" + boundary + "\r\n" +
	"\r\n"

const multipartPreambleTemplate = "\r\n" + boundary + "\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n"

func responseAuthHeader(realm string) string {
	return "" +
		"HTTP/1.1 401 Not Authorized\r\n" +
		"Server: streamEye/" + Version + "\r\n" +
		"Connection: close\r\n" +
		"WWW-Authenticate: Basic realm=\"" + realm + "\"\r\n" +
		"\r\n"
}

// ClientSession is the per-connection state machine: RECV_REQUEST ->
// (AUTH_CHALLENGE | AUTH_OK) -> STREAM_LOOP -> CLEANUP. It is owned
// exclusively by its worker goroutine; the registry only tracks its
// membership, and the hub only touches its ready flag.
type ClientSession struct {
	conn    net.Conn
	addr    string
	port    int
	timeout time.Duration
	clock   Clock
	log     servicelog.Logger

	method  string
	uri     string
	version string
	token   string // presented Authorization: Basic <token>, if any

	ready         bool // mutated only under FrameHub.mu
	scratch       []byte
	frameInterval float64
	lastFrameTime float64
}

// newClientSession wraps an accepted connection. addr/port are parsed
// from conn.RemoteAddr(), matching the original's inet_ntop/ntohs use.
func newClientSession(conn net.Conn, timeout time.Duration, clock Clock, log servicelog.Logger) *ClientSession {
	addr, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	port := 0
	if err == nil {
		port, _ = strconv.Atoi(portStr)
	} else {
		addr = conn.RemoteAddr().String()
	}
	return &ClientSession{
		conn:    conn,
		addr:    addr,
		port:    port,
		timeout: timeout,
		clock:   clock,
		log:     log.With(servicelog.String("addr", addr), servicelog.Int("port", port)),
	}
}

func (s *ClientSession) setReady(v bool) { s.ready = v }

// FrameInterval returns the session's current EWMA inter-frame
// interval in seconds, used by the registry to compute the minimum
// across all clients for producer pacing.
func (s *ClientSession) FrameInterval() float64 {
	return s.frameInterval
}

// readRequest reads the request header, bounded to RequestBufLen
// bytes, then parses the request line and the Authorization header.
// Mirrors read_request in the original client.c.
func (s *ClientSession) readRequest(running *Running) error {
	s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	buf := make([]byte, 0, RequestBufLen)
	chunk := make([]byte, RequestBufLen)
	for running.Get() {
		if len(buf) >= RequestBufLen {
			return errors.New("request header too large")
		}
		n, err := s.conn.Read(chunk[:RequestBufLen-len(buf)])
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return errors.New("timeout reading from client")
			}
			if errors.Is(err, syscall.EINTR) {
				break
			}
			if errors.Is(err, io.EOF) {
				return errors.New("connection closed")
			}
			return fmt.Errorf("read() failed: %w", err)
		}
		if n == 0 {
			return errors.New("connection closed")
		}
		if idx := strings.Index(string(buf), "\r\n\r\n"); idx >= 0 {
			buf = buf[:idx+4]
			break
		}
	}

	s.log.Debug("received request header")
	return s.parseRequest(string(buf))
}

func (s *ClientSession) parseRequest(header string) error {
	lines := strings.Split(header, "\r\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		if i == 0 {
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return errors.New("invalid request line")
			}
			s.method = truncate(fields[0], maxMethodLen)
			s.uri = truncate(fields[1], maxURILen)
			s.version = truncate(fields[2], maxVersionLen)
			s.log.Debug("request line", servicelog.String("method", s.method),
				servicelog.String("uri", s.uri), servicelog.String("version", s.version))
			continue
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		if strings.EqualFold(name, "Authorization") {
			scheme, token, ok := strings.Cut(value, " ")
			if !ok || !strings.EqualFold(scheme, "Basic") {
				s.log.Error("unknown authorization header", servicelog.String("value", value))
				continue
			}
			s.token = token
			s.log.Debug("authorization header: Basic")
		} else {
			s.log.Debug("header", servicelog.String("name", name), servicelog.String("value", value))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// writeAll writes buf to the connection in full. A partial write is
// client-fatal. A broken pipe is benign (signals the connection is
// already gone); any other error is client-fatal.
func (s *ClientSession) writeAll(buf []byte) error {
	n, err := s.conn.Write(buf)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.EINTR) {
			return errConnectionClosed
		}
		return fmt.Errorf("write() failed: %w", err)
	}
	if n < len(buf) {
		return errors.New("not all data could be written")
	}
	return nil
}

var errConnectionClosed = errors.New("connection closed")

// serve drives the whole state machine for one accepted connection.
// It is the Go counterpart of handle_client in the original client.c.
// The session is already registered in the registry (and counted
// towards max_clients) by the time serve runs -- tryAcceptOne reserves
// the slot synchronously at accept, before this goroutine is spawned,
// and also owns tearing it back down once serve returns.
func (s *ClientSession) serve(hub *FrameHub, auth *AuthConfig, running *Running) {
	defer s.conn.Close()

	if err := s.readRequest(running); err != nil {
		s.log.Error("failed to read client request", servicelog.Error(err))
		return
	}

	if auth.Mode() == AuthBasic {
		if !auth.Authorize(s.token) {
			if s.token != "" {
				s.log.Error("authentication error")
			} else {
				s.log.Debug("authentication required")
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
			if err := s.writeAll([]byte(responseAuthHeader(auth.Realm()))); err != nil {
				s.log.Error("failed to write response header", servicelog.Error(err))
			}
			return
		}
		s.log.Debug("authentication successful")
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := s.writeAll([]byte(responseOKHeader)); err != nil {
		s.log.Error("failed to write response header", servicelog.Error(err))
		return
	}

	s.lastFrameTime = s.clock.Now()
	for running.Get() {
		length, ok := hub.Next(s)
		if !ok {
			break
		}

		now := s.clock.Now()
		s.frameInterval = s.frameInterval*0.7 + (now-s.lastFrameTime)*0.3
		s.lastFrameTime = now

		if !running.Get() {
			break // speeds up shutdown, matching the original
		}

		s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		preamble := fmt.Sprintf(multipartPreambleTemplate, length)
		if err := s.writeAll([]byte(preamble)); err != nil {
			if errors.Is(err, errConnectionClosed) {
				s.log.Info("connection closed")
			} else {
				s.log.Error("failed to write multipart header", servicelog.Error(err))
			}
			break
		}
		if err := s.writeAll(s.scratch[:length]); err != nil {
			if errors.Is(err, errConnectionClosed) {
				s.log.Info("connection closed")
			} else {
				s.log.Error("failed to write jpeg data", servicelog.Error(err))
			}
			break
		}
	}
}
