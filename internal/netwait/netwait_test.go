package netwait

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"
)

func staticLink(addrs ...string) *IPLink {
	l := &IPLink{}
	l.addrs = func() ([]net.Addr, error) {
		out := make([]net.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, &net.IPNet{IP: net.ParseIP(a), Mask: net.CIDRMask(24, 32)})
		}
		return out, nil
	}
	return l
}

func TestIPLinkUp(t *testing.T) {
	tests := []struct {
		name     string
		link     *IPLink
		wantUp   bool
		wantAddr string
	}{
		{"dhcp lease", staticLink("192.168.1.50"), true, "192.168.1.50"},
		{"loopback only", staticLink("127.0.0.1"), false, ""},
		{"link local only", staticLink("169.254.12.7"), false, ""},
		{"link local then lease", staticLink("169.254.12.7", "10.0.0.9"), true, "10.0.0.9"},
		{"no addresses", staticLink(), false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.link.Up(); got != tt.wantUp {
				t.Errorf("Up() = %v, want %v", got, tt.wantUp)
			}
			if got := tt.link.LocalAddr(); got != tt.wantAddr {
				t.Errorf("LocalAddr() = %q, want %q", got, tt.wantAddr)
			}
		})
	}
}

func TestIPLinkAddrError(t *testing.T) {
	l := &IPLink{}
	l.addrs = func() ([]net.Addr, error) { return nil, errors.New("no such interface") }
	if l.Up() {
		t.Error("Up() = true on address lookup failure, want false")
	}
}

func TestWaitUp(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("returns once associated", func(t *testing.T) {
		polls := 0
		l := &IPLink{}
		l.addrs = func() ([]net.Addr, error) {
			polls++
			if polls < 3 {
				return nil, nil
			}
			return []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.50"), Mask: net.CIDRMask(24, 32)}}, nil
		}
		if err := WaitUp(context.Background(), l, time.Millisecond, log); err != nil {
			t.Errorf("WaitUp() error = %v", err)
		}
	})

	t.Run("aborts on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := WaitUp(ctx, staticLink(), time.Millisecond, log); err == nil {
			t.Error("WaitUp() error = nil on canceled context, want error")
		}
	})
}
