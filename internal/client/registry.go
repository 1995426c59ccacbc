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
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/jr42/dhcp6-supplicant/internal/config"
)

// Registry owns the set of active devices, keyed by interface index. It is
// the surface the embedding daemon talks to.
type Registry struct {
	mu      sync.Mutex
	view    *config.View
	store   *DUIDStore
	log     logr.Logger
	devices map[int]*Device
	events  chan Event
	closed  bool

	// lookup resolves an interface index to link information;
	// overridable in tests.
	lookup func(ifindex int) (LinkInfo, error)

	// lookupName resolves an interface name for the daemon's
	// startup configuration.
	lookupName func(name string) (LinkInfo, error)
}

// NewRegistry creates a registry over the given configuration view.
func NewRegistry(view *config.View, log logr.Logger) *Registry {
	return &Registry{
		view:       view,
		store:      NewDUIDStore(view.DUIDFile(), log),
		log:        log.WithName("registry"),
		devices:    make(map[int]*Device),
		events:     make(chan Event, 16),
		lookup:     lookupLink,
		lookupName: lookupLinkByName,
	}
}

func linkFromInterface(ifi *net.Interface) LinkInfo {
	// The portable interface API does not expose the ARP hardware type;
	// a 6-byte address is Ethernet or IEEE 802 in practice.
	hwType := iana.HWType(0)
	if len(ifi.HardwareAddr) == 6 {
		hwType = iana.HWTypeEthernet
	}
	return LinkInfo{
		Index:        ifi.Index,
		Name:         ifi.Name,
		HWType:       hwType,
		HardwareAddr: ifi.HardwareAddr,
	}
}

func lookupLink(ifindex int) (LinkInfo, error) {
	ifi, err := net.InterfaceByIndex(ifindex)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("%w: index %d", ErrUnknownInterface, ifindex)
	}
	return linkFromInterface(ifi), nil
}

func lookupLinkByName(name string) (LinkInfo, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	return linkFromInterface(ifi), nil
}

// Events returns the lease event stream. Events are dropped, with a log
// line, if the embedder stops draining.
func (r *Registry) Events() <-chan Event {
	return r.events
}

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Info("event dropped, embedder not draining",
			"type", string(ev.Type), "ifname", ev.Ifname)
	}
}

// Get returns the device for an interface index, or nil.
func (r *Registry) Get(ifindex int) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[ifindex]
}

// GetOrCreate returns the device for the interface, creating it from the
// given link information on first use.
func (r *Registry) GetOrCreate(ifindex int, link LinkInfo) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(ifindex, link)
}

func (r *Registry) getOrCreateLocked(ifindex int, link LinkInfo) *Device {
	if dev, ok := r.devices[ifindex]; ok {
		return dev
	}
	dev := newDevice(link, r.view, r.store, r.emit, r.log)
	r.devices[ifindex] = dev
	return dev
}

// Acquire starts lease acquisition on the interface, creating the device
// on first use.
func (r *Registry) Acquire(ifindex int, req *Request) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("registry closed")
	}
	dev, ok := r.devices[ifindex]
	if !ok {
		link, err := r.lookup(ifindex)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		dev = r.getOrCreateLocked(ifindex, link)
	}
	r.mu.Unlock()
	return dev.Acquire(req)
}

// AcquireInterface is Acquire keyed by interface name, for the daemon's
// startup configuration.
func (r *Registry) AcquireInterface(name string, req *Request) error {
	link, err := r.lookupName(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("registry closed")
	}
	dev := r.getOrCreateLocked(link.Index, link)
	r.mu.Unlock()
	return dev.Acquire(req)
}

// Release drops the lease on the interface, optionally checking it against
// the given request uuid.
func (r *Registry) Release(ifindex int, leaseUUID *uuid.UUID) error {
	dev := r.Get(ifindex)
	if dev == nil {
		return fmt.Errorf("%w: index %d", ErrUnknownInterface, ifindex)
	}
	return dev.Release(leaseUUID)
}

// ForEach visits every device.
func (r *Registry) ForEach(fn func(*Device)) {
	r.mu.Lock()
	devs := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devs = append(devs, dev)
	}
	r.mu.Unlock()
	for _, dev := range devs {
		fn(dev)
	}
}

// RestartAll re-invokes acquisition on every device holding a request,
// preserving request identity.
func (r *Registry) RestartAll() {
	r.ForEach(func(dev *Device) {
		req := dev.Request()
		if req == nil {
			return
		}
		r.log.Info("restarting acquisition", "ifname", dev.Ifname(),
			"infoOnly", req.InfoOnly)
		if err := dev.Acquire(req); err != nil {
			r.log.Error(err, "restart failed", "ifname", dev.Ifname())
		}
	})
}

// LinkEvent routes a carrier change to the owning device, if any.
func (r *Registry) LinkEvent(ifindex int, up bool) {
	if dev := r.Get(ifindex); dev != nil {
		dev.LinkEvent(up)
	}
}

// Close tears down every device.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	devs := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devs = append(devs, dev)
	}
	r.devices = make(map[int]*Device)
	r.mu.Unlock()

	for _, dev := range devs {
		dev.Close()
	}
	close(r.events)
}
