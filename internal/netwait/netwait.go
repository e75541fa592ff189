// Package netwait provides the boot-time barrier that holds the
// pipeline until the network link has an address.
package netwait

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Link reports network association state.
type Link interface {
	Up() bool
	// LocalAddr returns the device address, empty while down.
	LocalAddr() string
}

// IPLink considers the link associated once a global unicast address
// exists, optionally restricted to one named interface. A link-local
// 169.254 lease does not count.
type IPLink struct {
	iface string
	addrs func() ([]net.Addr, error)
}

func NewIPLink(iface string) *IPLink {
	l := &IPLink{iface: iface}
	l.addrs = l.systemAddrs
	return l
}

func (l *IPLink) systemAddrs() ([]net.Addr, error) {
	if l.iface == "" {
		return net.InterfaceAddrs()
	}
	ifc, err := net.InterfaceByName(l.iface)
	if err != nil {
		return nil, fmt.Errorf("netwait: interface %s: %w", l.iface, err)
	}
	return ifc.Addrs()
}

func (l *IPLink) Up() bool {
	return l.LocalAddr() != ""
}

func (l *IPLink) LocalAddr() string {
	addrs, err := l.addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.IsGlobalUnicast() {
			return ip.String()
		}
	}
	return ""
}

// WaitUp blocks until the link is associated, polling at the given
// interval. Only meant as a one-time startup barrier.
func WaitUp(ctx context.Context, link Link, every time.Duration, log *slog.Logger) error {
	if link.Up() {
		log.Info("network up", "addr", link.LocalAddr())
		return nil
	}
	log.Info("waiting for network")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
		if link.Up() {
			log.Info("network up", "addr", link.LocalAddr())
			return nil
		}
	}
}
