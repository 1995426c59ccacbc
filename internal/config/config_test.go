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

package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

func TestDefaults(t *testing.T) {
	v, err := NewView(File{})
	if err != nil {
		t.Fatalf("NewView() error = %v", err)
	}

	if _, ok := v.DefaultDUID(); ok {
		t.Error("DefaultDUID() set without configuration")
	}
	if v.DUIDFile() == "" {
		t.Error("DUIDFile() empty")
	}
	en, data := v.VendorClass()
	if en != 7075 {
		t.Errorf("vendor enterprise = %d, want 7075", en)
	}
	if len(data) != 1 || !strings.HasPrefix(data[0], PackageName+"/") {
		t.Errorf("vendor data = %v, want %s/<version>", data, PackageName)
	}
	if v.MaxLeaseTime() != 0 {
		t.Errorf("MaxLeaseTime() = %v, want 0", v.MaxLeaseTime())
	}
	if v.IgnoreServer(netip.MustParseAddr("2001:db8::1")) {
		t.Error("IgnoreServer() true with no list")
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dhcp6d.yaml")
	doc := `
duidFile: /tmp/test-duid
defaultDuid: "00:02:00:00:1b:a3:01"
ignoreServers:
  - fe80::bad
preferredServers:
  - address: fe80::1
    weight: 100
  - serverId: "00:03:00:01:aa:bb:cc:dd:ee:ff"
    weight: -1
userClass:
  - lab
vendorClass:
  enterpriseNumber: 9999
  data:
    - custom/1.0
maxLeaseTime: 12h
interfaces:
  - name: eth0
    rapidCommit: true
    update: [resolver]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if v.DUIDFile() != "/tmp/test-duid" {
		t.Errorf("DUIDFile() = %s", v.DUIDFile())
	}
	d, ok := v.DefaultDUID()
	if !ok || d.Type() != dhcp6.DUIDTypeEN {
		t.Errorf("DefaultDUID() = %v, %v", d, ok)
	}
	if !v.IgnoreServer(netip.MustParseAddr("fe80::bad")) {
		t.Error("IgnoreServer(fe80::bad) = false")
	}
	if v.IgnoreServer(netip.MustParseAddr("fe80::dead")) {
		t.Error("IgnoreServer(fe80::dead) = true")
	}
	if w, ok := v.ServerPreference(netip.MustParseAddr("fe80::1"), nil); !ok || w != 100 {
		t.Errorf("ServerPreference(addr) = %d, %v", w, ok)
	}
	duid, _ := dhcp6.ParseDUIDHex("00:03:00:01:aa:bb:cc:dd:ee:ff")
	if w, ok := v.ServerPreference(netip.Addr{}, duid); !ok || w != -1 {
		t.Errorf("ServerPreference(duid) = %d, %v", w, ok)
	}
	if _, ok := v.ServerPreference(netip.MustParseAddr("fe80::2"), nil); ok {
		t.Error("ServerPreference matched an unknown server")
	}
	if got := v.UserClass(); len(got) != 1 || got[0] != "lab" {
		t.Errorf("UserClass() = %v", got)
	}
	en, data := v.VendorClass()
	if en != 9999 || len(data) != 1 || data[0] != "custom/1.0" {
		t.Errorf("VendorClass() = %d %v", en, data)
	}
	if v.MaxLeaseTime() != 12*time.Hour {
		t.Errorf("MaxLeaseTime() = %v", v.MaxLeaseTime())
	}
	ifaces := v.Interfaces()
	if len(ifaces) != 1 || ifaces[0].Name != "eth0" || !ifaces[0].RapidCommit {
		t.Errorf("Interfaces() = %+v", ifaces)
	}
}

func TestLoadMissingPathYieldsDefaults(t *testing.T) {
	v, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if en, _ := v.VendorClass(); en != 7075 {
		t.Errorf("vendor enterprise = %d", en)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"bad default duid", File{DefaultDUID: "zz"}},
		{"bad ignore server", File{IgnoreServers: []string{"not-an-ip"}}},
		{"empty preferred server", File{PreferredServers: []PreferredServer{{Weight: 1}}}},
		{"bad preferred address", File{PreferredServers: []PreferredServer{{Address: "x"}}}},
		{"bad lease time", File{MaxLeaseTime: "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewView(tt.file); err == nil {
				t.Error("NewView() accepted invalid configuration")
			}
		})
	}
}
