package systemd

import (
	"net"
	"strconv"
	"testing"
)

func TestListenerFactoryFallsBackToTCP(t *testing.T) {
	f := &ListenerFactory{ls: map[string][]net.Listener{}}

	l, err := f.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	if l.Addr().(*net.TCPAddr).IP.String() != "127.0.0.1" {
		t.Errorf("got listener on %v, want 127.0.0.1", l.Addr())
	}
}

func TestListenerFactoryServesNamedListener(t *testing.T) {
	want := newListener(t)
	defer want.Close()

	f := &ListenerFactory{ls: map[string][]net.Listener{
		"smtp": {want},
	}}

	got, err := f.Listen("systemd:smtp")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if !sameAddr(got.Addr(), want.Addr()) {
		t.Errorf("got listener on %v, want %v", got.Addr(), want.Addr())
	}

	// The listener was consumed; asking again with nothing left to hand
	// out should fail rather than block or panic.
	if _, err := f.Listen("systemd:smtp"); err == nil {
		t.Errorf("second Listen(\"systemd:smtp\") succeeded, want error")
	}
}

func TestListenerFactoryUnknownName(t *testing.T) {
	f := &ListenerFactory{ls: map[string][]net.Listener{}}

	if _, err := f.Listen("systemd:" + strconv.Itoa(1)); err == nil {
		t.Errorf("Listen on an unconfigured name succeeded, want error")
	}
}
