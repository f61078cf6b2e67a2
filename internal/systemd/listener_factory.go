package systemd

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// ListenerFactory adapts socket-activated listeners into the shape the
// root package expects from an EndpointListenerFactory. It is built once
// from the process's inherited file descriptors and then consulted once
// per configured endpoint.
type ListenerFactory struct {
	mu sync.Mutex
	ls map[string][]net.Listener
}

// NewListenerFactory collects the listeners systemd passed this process
// (if any) and returns a factory that hands them out by name.
func NewListenerFactory() (*ListenerFactory, error) {
	ls, err := Listeners()
	if err != nil {
		return nil, err
	}
	return &ListenerFactory{ls: ls}, nil
}

// Listen implements EndpointListenerFactory. An address of the form
// "systemd:<name>" consumes one socket-activated listener named <name>
// (the unit file's FileDescriptorName); any other address falls back to
// net.Listen("tcp", address), so a single ServerOptions can mix
// socket-activated and directly-bound endpoints.
func (f *ListenerFactory) Listen(address string) (net.Listener, error) {
	name, ok := systemdName(address)
	if !ok {
		return net.Listen("tcp", address)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	avail := f.ls[name]
	if len(avail) == 0 {
		return nil, fmt.Errorf("systemd: no socket-activated listener named %q (check FileDescriptorName)", name)
	}
	f.ls[name] = avail[1:]
	return avail[0], nil
}

func systemdName(address string) (string, bool) {
	const prefix = "systemd:"
	if !strings.HasPrefix(address, prefix) {
		return "", false
	}
	return strings.TrimPrefix(address, prefix), true
}
