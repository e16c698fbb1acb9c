// File: internal/sa/sa.go
// Author: momentics <momentics@gmail.com>

// Package sa models peer socket addresses as bit-exact comparable keys:
// address family (IPv4, IPv4-in-IPv6 and IPv6 stay distinct), address
// bytes, port and zone all participate in equality.
package sa

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// Key is a comparable peer address. The zero value is invalid.
type Key struct {
	ap netip.AddrPort
}

// FromAddrPort wraps a parsed address/port pair.
func FromAddrPort(ap netip.AddrPort) Key {
	return Key{ap: ap}
}

// FromNetAddr derives a key from a connection's net.Addr.
func FromNetAddr(a net.Addr) (Key, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return fromIPPort(v.IP, v.Port, v.Zone)
	case *net.UDPAddr:
		return fromIPPort(v.IP, v.Port, v.Zone)
	default:
		if a == nil {
			return Key{}, errors.New("sa: nil address")
		}
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return Key{}, errors.Wrapf(err, "sa: %q", a.String())
		}
		return Key{ap: ap}, nil
	}
}

func fromIPPort(ip net.IP, port int, zone string) (Key, error) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Key{}, errors.Errorf("sa: bad ip %v", ip)
	}
	addr = addr.WithZone(zone)
	return Key{ap: netip.AddrPortFrom(addr, uint16(port))}, nil
}

// Valid reports whether the key holds an address.
func (k Key) Valid() bool { return k.ap.IsValid() }

// String renders the canonical cache-key form.
func (k Key) String() string { return k.ap.String() }

// Equal is bit-exact comparison: family, address bytes, port, zone.
func (k Key) Equal(o Key) bool { return k.ap == o.ap }
