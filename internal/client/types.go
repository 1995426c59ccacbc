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

// Package client implements the DHCPv6 client engine: the per-interface
// device state machine, the RFC 3315 retransmission schedule, the
// per-device transport and the registry the embedding daemon talks to.
package client

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// Synchronous acquire failures (configuration error class).
var (
	ErrNoLinkLocal      = errors.New("no usable link-local address on interface")
	ErrNoDUID           = errors.New("unable to obtain a client DUID")
	ErrUnknownInterface = errors.New("unknown interface")
	ErrNoLease          = errors.New("no lease bound")
)

// UpdateFlags selects which pieces of system configuration a lease may
// update.
type UpdateFlags uint32

const (
	UpdateHostname UpdateFlags = 1 << iota
	UpdateResolver
	UpdateNIS
	UpdateNTP
	UpdateDefaultRoute
)

// UpdateDefault is the update set applied when a request does not specify
// one.
const UpdateDefault = UpdateHostname | UpdateResolver

// ParseUpdateFlags converts configuration strings into an UpdateFlags set.
func ParseUpdateFlags(names []string) (UpdateFlags, error) {
	var flags UpdateFlags
	for _, name := range names {
		switch strings.ToLower(name) {
		case "hostname":
			flags |= UpdateHostname
		case "resolver", "dns":
			flags |= UpdateResolver
		case "nis":
			flags |= UpdateNIS
		case "ntp":
			flags |= UpdateNTP
		case "default-route":
			flags |= UpdateDefaultRoute
		default:
			return 0, errors.New("unknown update flag " + name)
		}
	}
	return flags, nil
}

// Request is the embedder's intent for one interface.
type Request struct {
	// UUID correlates the request with the resulting lease events.
	UUID uuid.UUID

	// Update selects which configuration areas the lease may touch.
	Update UpdateFlags

	// InfoOnly requests a stateless information-only exchange.
	InfoOnly bool

	// RapidCommit permits the two-message Solicit/Reply exchange.
	RapidCommit bool

	// ClientDUID optionally overrides the client identity, as a hex string.
	ClientDUID string

	// Hostname is carried into the exchange Config; it is not sent to the
	// server, as no hostname option is encoded.
	Hostname string

	// LeaseTime caps the lifetimes accepted from the server; zero means
	// no cap beyond the global configuration.
	LeaseTime time.Duration

	// ReconfigureAccept announces willingness to accept server-initiated
	// Reconfigure messages.
	ReconfigureAccept bool
}

// LinkInfo describes the interface a device runs on.
type LinkInfo struct {
	Index        int
	Name         string
	HWType       iana.HWType
	HardwareAddr net.HardwareAddr
}

// EventType labels events emitted toward the embedding daemon.
type EventType string

const (
	// EventLeaseAcquired reports a newly installed or refreshed lease.
	EventLeaseAcquired EventType = "lease-acquired"

	// EventLeaseReleased reports a lease dropped on the embedder's request.
	EventLeaseReleased EventType = "lease-released"

	// EventLeaseLost reports a lease that expired or could not be kept.
	EventLeaseLost EventType = "lease-lost"
)

// Event is a lease lifecycle notification.
type Event struct {
	Type    EventType
	Ifindex int
	Ifname  string
	Lease   *Lease
	Error   error
}

// Config is the per-exchange configuration derived from a Request at
// acquire time. It is immutable for the duration of a message exchange.
type Config struct {
	UUID              uuid.UUID
	DUID              dhcp6.DUID
	IAID              uint32
	Update            UpdateFlags
	InfoOnly          bool
	RapidCommit       bool
	ReconfigureAccept bool
	Hostname          string
	UserClass         []string
	VendorClassEN     uint32
	VendorClassData   []string
	VendorOptsEN      uint32
	VendorOpts        map[uint16][]byte
	MaxLeaseTime      time.Duration
}
