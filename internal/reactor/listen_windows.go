//go:build windows

package reactor

import "net"

// reuseAddrListenConfig has no SO_REUSEADDR control on windows; the default
// listen behavior is used as-is.
var reuseAddrListenConfig = net.ListenConfig{}
