package wire

import (
	"fmt"
	"net"
)

// NetAddress is an IPv4 address and port, total-ordered so it can be used as
// a map key and sorted deterministically in member lists.
type NetAddress struct {
	IP   [4]byte
	Port uint16
}

// None is the sentinel for an uninitialized local address, remapped once the
// reactor learns the real local IP from getsockname on first accept/connect.
var None = NetAddress{}

// IsNone reports whether a is the uninitialized sentinel.
func (a NetAddress) IsNone() bool {
	return a == None
}

// Compare gives a's total order relative to b: negative, zero or positive.
func (a NetAddress) Compare(b NetAddress) int {
	for i := 0; i < 4; i++ {
		if a.IP[i] != b.IP[i] {
			if a.IP[i] < b.IP[i] {
				return -1
			}
			return 1
		}
	}
	if a.Port != b.Port {
		if a.Port < b.Port {
			return -1
		}
		return 1
	}
	return 0
}

func (a NetAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// AddressFromTCP converts a *net.TCPAddr into a NetAddress, truncating to
// the IPv4 representation (BuddyFS's wire format has no IPv6 field).
func AddressFromTCP(addr *net.TCPAddr) NetAddress {
	var na NetAddress
	ip4 := addr.IP.To4()
	if ip4 != nil {
		copy(na.IP[:], ip4)
	}
	na.Port = uint16(addr.Port)
	return na
}

// TCPAddr converts a NetAddress back into a *net.TCPAddr for dialing.
func (a NetAddress) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: int(a.Port)}
}

// WithPort returns a copy of a with the port replaced, used by the IN_PORT
// handshake re-key.
func (a NetAddress) WithPort(port uint16) NetAddress {
	a.Port = port
	return a
}

// ParseAddress resolves a "host:port" string (as supplied on the CLI for a
// bootstrap seed) into a NetAddress.
func ParseAddress(s string) (NetAddress, error) {
	tcp, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return NetAddress{}, err
	}
	return AddressFromTCP(tcp), nil
}
