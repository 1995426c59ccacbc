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
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

func testStore(t *testing.T) *DUIDStore {
	t.Helper()
	s := NewDUIDStore(filepath.Join(t.TempDir(), "duid"), logr.Discard())
	s.interfaces = func() ([]net.Interface, error) { return nil, nil }
	return s
}

var testLink = LinkInfo{
	Index:        3,
	Name:         "eth0",
	HWType:       iana.HWTypeEthernet,
	HardwareAddr: net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
}

// A generated DUID is persisted and returned identically on the next
// resolve.
func TestResolveGeneratesAndPersists(t *testing.T) {
	s := testStore(t)

	first, err := s.Resolve(testLink, "", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first.Type() != dhcp6.DUIDTypeLLT {
		t.Errorf("generated DUID type = %v, want LLT", first.Type())
	}

	onDisk, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !dhcp6.DUIDEqual(onDisk, first) {
		t.Error("persisted DUID differs from the resolved one")
	}

	second, err := s.Resolve(testLink, "", nil)
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if !dhcp6.DUIDEqual(first, second) {
		t.Errorf("Resolve() not stable: %s vs %s",
			dhcp6.DUIDString(first), dhcp6.DUIDString(second))
	}
}

func TestResolvePreferredHexWins(t *testing.T) {
	s := testStore(t)

	d, err := s.Resolve(testLink, "00:03:00:01:aa:bb:cc:dd:ee:ff", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := dhcp6.DUIDString(d); got != "00:03:00:01:aa:bb:cc:dd:ee:ff" {
		t.Errorf("Resolve() = %s, want the preferred DUID", got)
	}

	// A supplied DUID must not overwrite the persistent file.
	if onDisk, _ := s.Load(); onDisk != nil {
		t.Error("preferred DUID was persisted")
	}
}

func TestResolveMalformedPreferredFallsThrough(t *testing.T) {
	s := testStore(t)
	deflt := &dhcp6.DUIDEN{EnterpriseNumber: 7075, Identifier: []byte{1, 2}}

	d, err := s.Resolve(testLink, "not-hex", deflt)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !dhcp6.DUIDEqual(d, deflt) {
		t.Error("malformed preferred DUID did not fall through to the default")
	}
}

func TestResolveUsesPersistedFile(t *testing.T) {
	s := testStore(t)
	stored := &dhcp6.DUIDEN{EnterpriseNumber: 7075, Identifier: []byte{9, 9, 9}}
	if err := s.Save(stored); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	d, err := s.Resolve(testLink, "", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !dhcp6.DUIDEqual(d, stored) {
		t.Error("Resolve() ignored the persisted DUID")
	}
}

func TestGenerateFallsBackToUUID(t *testing.T) {
	s := testStore(t)
	// No usable hardware address anywhere.
	link := LinkInfo{Index: 9, Name: "tun0"}

	d, err := s.Resolve(link, "", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Type() != dhcp6.DUIDTypeUUID {
		t.Errorf("DUID type = %v, want UUID", d.Type())
	}
}

func TestGenerateScansOtherInterfaces(t *testing.T) {
	s := testStore(t)
	s.interfaces = func() ([]net.Interface, error) {
		return []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagLoopback},
			{Index: 2, Name: "eth1", HardwareAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6}},
		}, nil
	}
	link := LinkInfo{Index: 9, Name: "tun0"}

	d, err := s.Resolve(link, "", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	llt, ok := d.(*dhcp6.DUIDLLT)
	if !ok {
		t.Fatalf("DUID = %T, want DUID-LLT from the scanned interface", d)
	}
	if llt.LinkLayerAddr.String() != "01:02:03:04:05:06" {
		t.Errorf("LinkLayerAddr = %s", llt.LinkLayerAddr)
	}
}

func TestLoadMissingFileMeansEmpty(t *testing.T) {
	s := testStore(t)
	d, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if d != nil {
		t.Errorf("Load() = %v, want nil for a missing file", d)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	s := testStore(t)
	d := &dhcp6.DUIDEN{EnterpriseNumber: 7075, Identifier: []byte{1}}
	if err := s.Save(d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Raw bytes, no framing.
	b, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	want := dhcp6.DUIDBytes(d)
	if string(b) != string(want) {
		t.Errorf("file = %x, want %x", b, want)
	}

	// No leftover temp files.
	entries, err := os.ReadDir(filepath.Dir(s.path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the DUID file", len(entries))
	}
}
