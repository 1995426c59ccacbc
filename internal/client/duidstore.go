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
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// DUIDStore resolves and persists the client's DHCP unique identifier.
// The file holds the raw DUID bytes, no header, no trailing newline.
type DUIDStore struct {
	path string
	log  logr.Logger

	// interfaces lists the host's interfaces for the generation fallback;
	// overridable in tests.
	interfaces func() ([]net.Interface, error)

	now func() time.Time
}

// NewDUIDStore creates a store persisting to path.
func NewDUIDStore(path string, log logr.Logger) *DUIDStore {
	return &DUIDStore{
		path:       path,
		log:        log.WithName("duid-store"),
		interfaces: net.Interfaces,
		now:        time.Now,
	}
}

// Resolve produces the client DUID for a device. Policy, in order: the
// request's preferred hex string, the configured default, the persisted
// file, generation. A generated DUID is persisted; a persist failure is
// returned alongside the DUID so the caller can surface it without losing
// the exchange.
func (s *DUIDStore) Resolve(link LinkInfo, preferred string, deflt dhcp6.DUID) (dhcp6.DUID, error) {
	if preferred != "" {
		if d, err := dhcp6.ParseDUIDHex(preferred); err == nil {
			return d, nil
		}
		s.log.Info("ignoring malformed preferred DUID", "ifname", link.Name, "duid", preferred)
	}

	if deflt != nil {
		return deflt, nil
	}

	if d, err := s.Load(); err == nil && d != nil {
		return d, nil
	}

	d := s.generate(link)
	if d == nil {
		return nil, ErrNoDUID
	}
	if err := s.Save(d); err != nil {
		return d, fmt.Errorf("persisting generated DUID: %w", err)
	}
	s.log.Info("generated client DUID", "duid", dhcp6.DUIDString(d))
	return d, nil
}

// Load reads the persisted DUID. A missing file yields (nil, nil).
func (s *DUIDStore) Load() (dhcp6.DUID, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	return dhcp6.ParseDUID(b)
}

// Save writes the DUID with create-then-rename so a concurrent reader
// never observes a torn file.
func (s *DUIDStore) Save(d dhcp6.DUID) error {
	b, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".duid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// usableHWType reports whether a hardware type yields a stable DUID-LLT.
func usableHWType(t iana.HWType) bool {
	switch t {
	case iana.HWTypeEthernet, iana.HWTypeIEEE802, iana.HWTypeInfiniband:
		return true
	}
	return false
}

// generate prefers a DUID-LLT from the device's own permanent hardware
// address, then from any other usable interface, and falls back to a
// DUID-UUID.
func (s *DUIDStore) generate(link LinkInfo) dhcp6.DUID {
	if len(link.HardwareAddr) > 0 && usableHWType(link.HWType) {
		return dhcp6.NewDUIDLLT(link.HWType, s.now(), link.HardwareAddr)
	}

	if ifaces, err := s.interfaces(); err == nil {
		for _, ifi := range ifaces {
			if ifi.Flags&net.FlagLoopback != 0 || len(ifi.HardwareAddr) == 0 {
				continue
			}
			// The kernel does not expose the ARP hardware type here;
			// a 6-byte address on a non-loopback interface is Ethernet
			// or IEEE 802 in practice.
			if len(ifi.HardwareAddr) == 6 {
				return dhcp6.NewDUIDLLT(iana.HWTypeEthernet, s.now(), ifi.HardwareAddr)
			}
		}
	}

	return &dhcp6.DUIDUUID{UUID: uuid.New()}
}
