//go:build unix

package link

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReusable sets SO_REUSEADDR and, where supported, SO_REUSEPORT on a
// multicast listen socket so more than one local process (e.g. several
// zenohd peers scouting on the same host) can bind the same multicast
// port concurrently, mirroring the teacher's rawsock socket-option setup
// for its BFD listen sockets.
func setReusable(c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		// SO_REUSEPORT is best-effort: older kernels without it still get
		// SO_REUSEADDR's single-listener sharing, so ignore this error.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
