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
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

func TestLeaseT1T2Defaults(t *testing.T) {
	tests := []struct {
		name   string
		lease  Lease
		wantT1 time.Duration
		wantT2 time.Duration
	}{
		{
			name: "server supplied",
			lease: Lease{IAs: []IA{{
				T1:        1000 * time.Second,
				T2:        1600 * time.Second,
				Addresses: []IAAddress{{Preferred: 3600 * time.Second, Valid: 7200 * time.Second}},
			}}},
			wantT1: 1000 * time.Second,
			wantT2: 1600 * time.Second,
		},
		{
			name: "defaults from preferred lifetime",
			lease: Lease{IAs: []IA{{
				Addresses: []IAAddress{{Preferred: 3600 * time.Second, Valid: 7200 * time.Second}},
			}}},
			wantT1: 1800 * time.Second,
			wantT2: 2880 * time.Second,
		},
		{
			name: "earliest expiring address rules",
			lease: Lease{IAs: []IA{{
				Addresses: []IAAddress{
					{Preferred: 7200 * time.Second, Valid: 9000 * time.Second},
					{Preferred: 1000 * time.Second, Valid: 2000 * time.Second},
				},
			}}},
			wantT1: 500 * time.Second,
			wantT2: 800 * time.Second,
		},
		{
			name:   "no addresses",
			lease:  Lease{},
			wantT1: 0,
			wantT2: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lease.T1(); got != tt.wantT1 {
				t.Errorf("T1() = %v, want %v", got, tt.wantT1)
			}
			if got := tt.lease.T2(); got != tt.wantT2 {
				t.Errorf("T2() = %v, want %v", got, tt.wantT2)
			}
		})
	}
}

func TestLeaseFromReply(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	reqUUID := uuid.New()
	unicast := netip.MustParseAddr("2001:db8::2")

	msg := &dhcp6.Message{
		Type:          dhcp6.MessageTypeReply,
		TransactionID: 0x123456,
		Options: dhcp6.Options{
			&dhcp6.ServerID{DUID: testServerDUID},
			&dhcp6.IANA{
				IAID: 7,
				T1:   1800,
				T2:   2880,
				Options: dhcp6.Options{
					&dhcp6.IAAddr{
						Addr:      netip.MustParseAddr("2001:db8::1"),
						Preferred: 3600,
						Valid:     7200,
					},
				},
			},
			&dhcp6.DNSServers{Servers: []netip.Addr{netip.MustParseAddr("2001:db8::53")}},
			&dhcp6.DomainList{Domains: []string{"example.com"}},
			&dhcp6.RawOption{OptionCode: 12, Data: unicast.AsSlice()},
			&dhcp6.RawOption{OptionCode: 56, Data: []byte{0xca, 0xfe}},
		},
	}

	lease := newLeaseFromReply(msg, testServerAddr, now, reqUUID, 0)

	if !dhcp6.DUIDEqual(lease.ServerDUID, testServerDUID) {
		t.Error("server DUID not captured")
	}
	if lease.ServerAddr != testServerAddr {
		t.Errorf("ServerAddr = %v", lease.ServerAddr)
	}
	if lease.ServerUnicast != unicast {
		t.Errorf("ServerUnicast = %v, want %v", lease.ServerUnicast, unicast)
	}
	if !lease.UnicastUsable() {
		t.Error("UnicastUsable() = false with a global hint")
	}
	if len(lease.IAs) != 1 || lease.IAs[0].IAID != 7 {
		t.Fatalf("IAs = %+v", lease.IAs)
	}
	a := lease.IAs[0].Addresses[0]
	if a.Preferred != 3600*time.Second || a.Valid != 7200*time.Second {
		t.Errorf("lifetimes = %v/%v", a.Preferred, a.Valid)
	}
	if len(lease.DNSServers) != 1 || lease.DNSServers[0] != netip.MustParseAddr("2001:db8::53") {
		t.Errorf("DNSServers = %v", lease.DNSServers)
	}
	if len(lease.DomainList) != 1 || lease.DomainList[0] != "example.com" {
		t.Errorf("DomainList = %v", lease.DomainList)
	}
	if _, ok := lease.Aux[56]; !ok {
		t.Error("auxiliary option 56 not preserved")
	}
	if !lease.Valid(now.Add(time.Hour)) {
		t.Error("lease invalid well before the valid lifetime")
	}
	if lease.Valid(now.Add(7201 * time.Second)) {
		t.Error("lease still valid past the valid lifetime")
	}
}

func TestLeaseLifetimeCap(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	msg := &dhcp6.Message{
		Type: dhcp6.MessageTypeReply,
		Options: dhcp6.Options{
			&dhcp6.ServerID{DUID: testServerDUID},
			grantedIANA(7, 86400, 115200, 172800, 259200, netip.MustParseAddr("2001:db8::1")),
		},
	}

	lease := newLeaseFromReply(msg, testServerAddr, now, uuid.New(), time.Hour)
	a := lease.IAs[0].Addresses[0]
	if a.Preferred != time.Hour || a.Valid != time.Hour {
		t.Errorf("lifetimes = %v/%v, want capped at 1h", a.Preferred, a.Valid)
	}
	if lease.IAs[0].T1 != time.Hour || lease.IAs[0].T2 != time.Hour {
		t.Errorf("T1/T2 = %v/%v, want capped at 1h", lease.IAs[0].T1, lease.IAs[0].T2)
	}
}

func TestValidLifetimeIsMinimum(t *testing.T) {
	lease := Lease{IAs: []IA{
		{Addresses: []IAAddress{{Valid: 300 * time.Second}}},
		{Addresses: []IAAddress{{Valid: 100 * time.Second}}},
	}}
	if got := lease.ValidLifetime(); got != 100*time.Second {
		t.Errorf("ValidLifetime() = %v, want 100s", got)
	}
}
