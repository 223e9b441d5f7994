package utils

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var ErrNoAddress = errors.New("no usable IPv4 address")

// LocalIP returns the first non-loopback IPv4 address the host name resolves
// to, falling back to the first one assigned to an interface. The address is
// not probed for reachability.
func LocalIP() (net.IP, error) {
	if host, err := os.Hostname(); err == nil {
		if ips, err := net.LookupIP(host); err == nil {
			if ip := firstUsableIPv4(ips); ip != nil {
				return ip, nil
			}
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			ips = append(ips, ipnet.IP)
		}
	}
	if ip := firstUsableIPv4(ips); ip != nil {
		return ip, nil
	}
	return nil, ErrNoAddress
}

func firstUsableIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsUnspecified() {
			return ip4
		}
	}
	return nil
}

// SubnetBroadcastAddrs returns the directed broadcast address of every IPv4
// network on an up, broadcast-capable interface.
func SubnetBroadcastAddrs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if b := BroadcastAddr(ipnet); b != nil {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// BroadcastAddr returns the highest address of an IPv4 network, or nil for
// IPv6 networks.
func BroadcastAddr(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}

	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip4[i] | ^mask[i]
	}
	return out
}
