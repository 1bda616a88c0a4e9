package relay

import (
	"net"
	"testing"
	"time"

	"github.com/ccrisan/streameye/internal/servicelog"
)

func discardLogger(t *testing.T) servicelog.Logger {
	t.Helper()
	log, err := servicelog.New(false, true, "")
	if err != nil {
		t.Fatalf("servicelog.New: %v", err)
	}
	return log
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
	if got := truncate("hello world", 5); got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestParseRequestLine(t *testing.T) {
	s := &ClientSession{log: discardLogger(t)}
	err := s.parseRequest("GET /stream HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if s.method != "GET" || s.uri != "/stream" || s.version != "HTTP/1.1" {
		t.Fatalf("got method=%q uri=%q version=%q", s.method, s.uri, s.version)
	}
}

func TestParseRequestRejectsMalformedLine(t *testing.T) {
	s := &ClientSession{log: discardLogger(t)}
	if err := s.parseRequest("GET /stream\r\n\r\n"); err == nil {
		t.Fatal("expected an error for a two-field request line")
	}
}

func TestParseRequestCapturesAuthorizationToken(t *testing.T) {
	s := &ClientSession{log: discardLogger(t)}
	header := "GET / HTTP/1.0\r\nAuthorization: Basic YWRtaW46c2VjcmV0\r\n\r\n"
	if err := s.parseRequest(header); err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if s.token != "YWRtaW46c2VjcmV0" {
		t.Fatalf("got token %q, want %q", s.token, "YWRtaW46c2VjcmV0")
	}
}

func TestParseRequestIgnoresUnknownAuthScheme(t *testing.T) {
	s := &ClientSession{log: discardLogger(t)}
	header := "GET / HTTP/1.0\r\nAuthorization: Digest abcdef\r\n\r\n"
	if err := s.parseRequest(header); err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	if s.token != "" {
		t.Fatalf("got token %q, want empty for an unsupported scheme", s.token)
	}
}

func TestReadRequestParsesOverPipe(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	running := NewRunning()
	s := newClientSession(serverConn, time.Second, NewClock(), discardLogger(t))

	errc := make(chan error, 1)
	go func() { errc <- s.readRequest(running) }()

	if _, err := clientConn.Write([]byte("GET /video HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("readRequest: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("readRequest never returned")
	}

	if s.method != "GET" || s.uri != "/video" {
		t.Fatalf("got method=%q uri=%q", s.method, s.uri)
	}
}

func TestWriteAllDetectsPartialWriteIsImpossibleOnSuccess(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	s := &ClientSession{conn: serverConn}

	done := make(chan error, 1)
	go func() { done <- s.writeAll([]byte("hello")) }()

	buf := make([]byte, 5)
	if _, err := clientConn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writeAll: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q, want %q", buf, "hello")
	}
}
