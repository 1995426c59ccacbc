/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package client

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// transportConn is the socket surface the device drives. Tests substitute
// a recording fake.
type transportConn interface {
	WriteTo(b []byte, dst netip.AddrPort) error
	ReadFrom(b []byte) (int, netip.Addr, error)
	Close() error
}

// udpTransport is one UDP/IPv6 socket scoped to an interface, bound to the
// device's link-local source on the DHCPv6 client port.
type udpTransport struct {
	conn    *net.UDPConn
	ifindex int
}

// dialTransport opens the per-device socket. src must be a link-local
// address of the interface.
func dialTransport(link LinkInfo, src netip.Addr) (transportConn, error) {
	laddr := &net.UDPAddr{
		IP:   src.AsSlice(),
		Port: dhcp6.ClientPort,
		Zone: link.Name,
	}
	conn, err := net.ListenUDP("udp6", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", laddr, err)
	}

	// Link-scoped multicast; never let a send leave the link.
	p := ipv6.NewPacketConn(conn)
	if ifi, err := net.InterfaceByIndex(link.Index); err == nil {
		_ = p.SetMulticastInterface(ifi)
	}
	_ = p.SetMulticastHopLimit(1)

	return &udpTransport{conn: conn, ifindex: link.Index}, nil
}

// WriteTo sends one datagram. Multicast destinations go through sendto(2)
// with MSG_DONTROUTE; a send that would block is retried on
// writable-readiness rather than surfaced.
func (t *udpTransport) WriteTo(b []byte, dst netip.AddrPort) error {
	if !dst.Addr().IsMulticast() {
		_, err := t.conn.WriteToUDPAddrPort(b, dst)
		return err
	}

	rc, err := t.conn.SyscallConn()
	if err != nil {
		return err
	}
	sa := &unix.SockaddrInet6{
		Port:   int(dst.Port()),
		ZoneId: uint32(t.ifindex),
		Addr:   dst.Addr().As16(),
	}
	var opErr error
	err = rc.Write(func(fd uintptr) bool {
		opErr = unix.Sendto(int(fd), b, unix.MSG_DONTROUTE, sa)
		return opErr != unix.EAGAIN
	})
	if err != nil {
		return err
	}
	return opErr
}

// ReadFrom receives one datagram, reporting the sender address.
func (t *udpTransport) ReadFrom(b []byte) (int, netip.Addr, error) {
	n, from, err := t.conn.ReadFromUDPAddrPort(b)
	if err != nil {
		return 0, netip.Addr{}, err
	}
	return n, from.Addr().Unmap().WithZone(""), nil
}

// Close releases the socket.
func (t *udpTransport) Close() error {
	return t.conn.Close()
}

// linkLocalAddr returns the first link-local IPv6 address on the
// interface. The address's tentative (DAD) state is not checked. It is the
// default refresh hook of a device.
func linkLocalAddr(link LinkInfo) (netip.Addr, error) {
	ifi, err := net.InterfaceByIndex(link.Index)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: index %d", ErrUnknownInterface, link.Index)
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipn.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if addr.Is6() && addr.IsLinkLocalUnicast() {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrNoLinkLocal
}
