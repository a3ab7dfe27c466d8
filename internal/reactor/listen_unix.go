//go:build !windows

package reactor

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrListenConfig sets SO_REUSEADDR on the listening socket before
// bind, mirroring the teacher's platform-split listen.go/listen_linux.go:
// a node restarted in place during development should never be blocked by
// a prior listener's lingering TIME_WAIT socket.
var reuseAddrListenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var setErr error
		err := c.Control(func(fd uintptr) {
			setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return setErr
	},
}
