// Package relay implements the MJPEG fan-out core: carving frames out
// of a raw motion-JPEG byte stream and republishing them to any number
// of concurrent HTTP multipart/x-mixed-replace clients.
package relay

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ccrisan/streameye/internal/servicelog"
)

// Version is the relay's protocol/server version string, advertised in
// the Server response header.
const Version = "0.9"

const (
	// DefClientTimeout is the default read/write deadline applied to
	// client connections, matching DEF_CLIENT_TIMEOUT.
	DefClientTimeout = 10 * time.Second
	// DefTCPPort is the default listening port, matching DEF_TCP_PORT.
	DefTCPPort = 8080
)

// tuneSocket sets TCP_NODELAY explicitly on an accepted connection.
// Go already disables Nagle's algorithm on *net.TCPConn by default, so
// this is a belt-and-suspenders assertion rather than load-bearing
// behavior -- see DESIGN NOTES.
func tuneSocket(conn net.Conn, log servicelog.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	ctrlErr := raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
	if ctrlErr != nil {
		log.Debug("failed to set TCP_NODELAY", servicelog.Error(ctrlErr))
	}
}
