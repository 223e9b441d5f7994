package udp

import (
	"fmt"
	"net"
	"strconv"
)

// Addr is one end of a UDP conversation. Values are compared with Equals and
// copied with Copy; a received Addr never aliases a socket read buffer.
type Addr struct {
	IP   net.IP
	Port uint16
}

func NewAddr(ip net.IP, port uint16) *Addr {
	addr := Addr{Port: port}
	if ip != nil {
		addr.IP = make([]byte, net.IPv6len)
		copy(addr.IP, ip.To16())
	}
	return &addr
}

// ResolveAddr parses host:port, resolving host names.
func ResolveAddr(s string) (*Addr, error) {
	ua, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", s, err)
	}
	return FromUDPAddr(ua), nil
}

func FromUDPAddr(ua *net.UDPAddr) *Addr {
	if ua == nil {
		return nil
	}
	return NewAddr(ua.IP, uint16(ua.Port))
}

func (a *Addr) Network() string {
	return "udp"
}

func (a *Addr) String() string {
	if a == nil {
		return "<nil>"
	}
	host := ""
	if len(a.IP) > 0 {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(a.Port)))
}

func (a *Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{
		IP:   a.IP,
		Port: int(a.Port),
	}
}

// Unspecified reports whether the address leaves the IP for the OS to pick.
func (a *Addr) Unspecified() bool {
	return a == nil || len(a.IP) == 0 || a.IP.IsUnspecified()
}

func (a *Addr) Copy() *Addr {
	if a == nil {
		return nil
	}

	nu := Addr{Port: a.Port}
	if a.IP != nil {
		nu.IP = make(net.IP, len(a.IP))
		copy(nu.IP, a.IP)
	}
	return &nu
}

func (a *Addr) Equals(t *Addr) bool {
	if t == nil || a == nil {
		return t == nil && a == nil
	}
	return a.IP.Equal(t.IP) && a.Port == t.Port
}
