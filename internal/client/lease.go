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
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// serverUnicastOption is RFC 3315 option 12. It is not part of the typed
// codec surface; the hint is picked out of the raw options here.
const serverUnicastOption dhcp6.OptionCode = 12

// IAAddress is one address binding granted by the server.
type IAAddress struct {
	Addr      netip.Addr
	Preferred time.Duration
	Valid     time.Duration
}

// IA is an identity association from a Reply.
type IA struct {
	IAID      uint32
	T1        time.Duration
	T2        time.Duration
	Addresses []IAAddress
}

// Lease is the result of a successful exchange.
type Lease struct {
	// UUID is the identity of the request that produced the lease.
	UUID uuid.UUID

	ServerDUID dhcp6.DUID

	// ServerAddr is the source address the granting Reply arrived from.
	ServerAddr netip.Addr

	// ServerUnicast is the server's unicast hint, if it sent one.
	ServerUnicast netip.Addr

	Acquired time.Time

	IAs []IA

	// Decoded auxiliary configuration.
	DNSServers []netip.Addr
	DomainList []string

	// Aux preserves auxiliary option payloads keyed by option code.
	Aux map[dhcp6.OptionCode][][]byte

	// InfoOnly marks a stateless lease with no addresses.
	InfoOnly bool
}

// newLeaseFromReply builds a lease from a granting Reply (or Advertise
// during selection). Lifetimes are capped at maxLease when nonzero.
func newLeaseFromReply(msg *dhcp6.Message, from netip.Addr, now time.Time, reqUUID uuid.UUID, maxLease time.Duration) *Lease {
	l := &Lease{
		UUID:       reqUUID,
		ServerDUID: msg.Options.ServerID(),
		ServerAddr: from,
		Acquired:   now,
		Aux:        make(map[dhcp6.OptionCode][][]byte),
	}

	capLifetime := func(d time.Duration) time.Duration {
		if maxLease > 0 && d > maxLease {
			return maxLease
		}
		return d
	}

	for _, ia := range msg.Options.IANAs() {
		rec := IA{
			IAID: ia.IAID,
			T1:   capLifetime(time.Duration(ia.T1) * time.Second),
			T2:   capLifetime(time.Duration(ia.T2) * time.Second),
		}
		for _, a := range ia.Addresses() {
			rec.Addresses = append(rec.Addresses, IAAddress{
				Addr:      a.Addr,
				Preferred: capLifetime(time.Duration(a.Preferred) * time.Second),
				Valid:     capLifetime(time.Duration(a.Valid) * time.Second),
			})
		}
		l.IAs = append(l.IAs, rec)
	}

	for _, opt := range msg.Options {
		switch o := opt.(type) {
		case *dhcp6.DNSServers:
			l.DNSServers = append(l.DNSServers, o.Servers...)
		case *dhcp6.DomainList:
			l.DomainList = append(l.DomainList, o.Domains...)
		case *dhcp6.RawOption:
			if o.OptionCode == serverUnicastOption && len(o.Data) >= 16 {
				if addr, ok := netip.AddrFromSlice(o.Data[:16]); ok {
					l.ServerUnicast = addr
				}
			}
			l.Aux[o.OptionCode] = append(l.Aux[o.OptionCode], append([]byte(nil), o.Data...))
		}
	}

	return l
}

// earliestExpiring returns the granted address with the smallest preferred
// lifetime.
func (l *Lease) earliestExpiring() (IAAddress, bool) {
	var best IAAddress
	found := false
	for _, ia := range l.IAs {
		for _, a := range ia.Addresses {
			if !found || a.Preferred < best.Preferred {
				best = a
				found = true
			}
		}
	}
	return best, found
}

// T1 returns the renewal time: the server-supplied value if any IA carries
// one, otherwise half the preferred lifetime of the earliest-expiring
// address.
func (l *Lease) T1() time.Duration {
	for _, ia := range l.IAs {
		if ia.T1 > 0 {
			return ia.T1
		}
	}
	if a, ok := l.earliestExpiring(); ok {
		return a.Preferred / 2
	}
	return 0
}

// T2 returns the rebind time: server-supplied, or 0.8 of the preferred
// lifetime of the earliest-expiring address.
func (l *Lease) T2() time.Duration {
	for _, ia := range l.IAs {
		if ia.T2 > 0 {
			return ia.T2
		}
	}
	if a, ok := l.earliestExpiring(); ok {
		return a.Preferred * 4 / 5
	}
	return 0
}

// ValidLifetime returns the smallest valid lifetime across granted
// addresses; past it the lease is gone.
func (l *Lease) ValidLifetime() time.Duration {
	var min time.Duration
	found := false
	for _, ia := range l.IAs {
		for _, a := range ia.Addresses {
			if !found || a.Valid < min {
				min = a.Valid
				found = true
			}
		}
	}
	return min
}

// HasAddresses reports whether any IA carries a usable address binding.
func (l *Lease) HasAddresses() bool {
	for _, ia := range l.IAs {
		if len(ia.Addresses) > 0 {
			return true
		}
	}
	return false
}

// UnicastUsable reports whether the server's unicast hint may be used as a
// destination: present and none of unspecified, multicast or loopback.
func (l *Lease) UnicastUsable() bool {
	a := l.ServerUnicast
	return a.IsValid() && !a.IsUnspecified() && !a.IsMulticast() && !a.IsLoopback()
}

// Valid reports whether the lease still holds at the given instant.
func (l *Lease) Valid(now time.Time) bool {
	if l.InfoOnly {
		return false
	}
	v := l.ValidLifetime()
	return v > 0 && now.Before(l.Acquired.Add(v))
}
