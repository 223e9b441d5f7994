//go:build !linux

package portalloc

import "errors"

type unsupportedSource struct{}

func (unsupportedSource) ActivePorts(Protocol) (map[int]struct{}, error) {
	return nil, errors.ErrUnsupported
}

func systemSource() Source {
	return unsupportedSource{}
}
