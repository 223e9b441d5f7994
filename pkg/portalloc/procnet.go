package portalloc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// tcpListen is the st column value of a listening socket in /proc/net/tcp.
const tcpListen = "0A"

var procNetFiles = map[Protocol][]string{
	UDP: {"udp", "udp6"},
	TCP: {"tcp", "tcp6"},
}

// procSource reads the socket tables the Linux kernel exposes under
// /proc/net. Every bound UDP socket counts as active; TCP sockets count
// only while listening.
type procSource struct {
	dir string
}

func (s procSource) ActivePorts(proto Protocol) (map[int]struct{}, error) {
	files, ok := procNetFiles[proto]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q", proto)
	}

	ports := make(map[int]struct{})
	for _, name := range files {
		f, err := os.Open(filepath.Join(s.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			// no IPv6 stack
			continue
		}
		if err != nil {
			return nil, err
		}
		err = parseProcNet(f, proto, ports)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	return ports, nil
}

func parseProcNet(r io.Reader, proto Protocol, ports map[int]struct{}) error {
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}

		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if proto == TCP && fields[3] != tcpListen {
			continue
		}

		local := fields[1]
		i := strings.LastIndexByte(local, ':')
		if i < 0 {
			continue
		}
		port, err := strconv.ParseUint(local[i+1:], 16, 16)
		if err != nil {
			continue
		}
		ports[int(port)] = struct{}{}
	}
	return sc.Err()
}
