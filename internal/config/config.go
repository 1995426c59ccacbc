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

// Package config loads the supplicant's YAML configuration file and exposes
// it as an immutable read-only view. A reload produces a fresh view; views
// are never mutated in place.
package config

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// Version is stamped at build time via -ldflags.
var Version = "0.1.0"

const (
	// PackageName identifies the supplicant in the default vendor class.
	PackageName = "dhcp6-supplicant"

	// defaultEnterpriseNumber is the IANA enterprise number used for the
	// vendor class when the configuration does not override it.
	defaultEnterpriseNumber = 7075

	defaultDUIDFile = "/var/lib/dhcp6-supplicant/duid"
)

// File is the on-disk YAML schema.
type File struct {
	DUIDFile         string             `yaml:"duidFile"`
	DefaultDUID      string             `yaml:"defaultDuid"`
	IgnoreServers    []string           `yaml:"ignoreServers"`
	PreferredServers []PreferredServer  `yaml:"preferredServers"`
	UserClass        []string           `yaml:"userClass"`
	VendorClass      *VendorClassConfig `yaml:"vendorClass"`
	VendorOpts       *VendorOptsConfig  `yaml:"vendorOpts"`
	MaxLeaseTime     string             `yaml:"maxLeaseTime"`
	Interfaces       []InterfaceConfig  `yaml:"interfaces"`
}

// PreferredServer weights a server by address or DUID. A negative weight
// rejects the server outright.
type PreferredServer struct {
	Address  string `yaml:"address"`
	ServerID string `yaml:"serverId"`
	Weight   int    `yaml:"weight"`
}

// VendorClassConfig overrides the vendor class option content.
type VendorClassConfig struct {
	EnterpriseNumber uint32   `yaml:"enterpriseNumber"`
	Data             []string `yaml:"data"`
}

// VendorOptsConfig carries vendor-specific options as hex strings keyed by
// vendor option number.
type VendorOptsConfig struct {
	EnterpriseNumber uint32            `yaml:"enterpriseNumber"`
	Options          map[uint16]string `yaml:"options"`
}

// InterfaceConfig names an interface the daemon manages at startup.
type InterfaceConfig struct {
	Name        string   `yaml:"name"`
	InfoOnly    bool     `yaml:"infoOnly"`
	RapidCommit bool     `yaml:"rapidCommit"`
	Hostname    string   `yaml:"hostname"`
	Update      []string `yaml:"update"`
}

type preferredServer struct {
	addr   netip.Addr
	duid   []byte
	weight int
}

// View is the immutable runtime projection of a File. All queries are pure.
type View struct {
	duidFile      string
	defaultDUID   dhcp6.DUID
	ignoreServers []netip.Addr
	preferred     []preferredServer
	userClass     []string
	vendorEN      uint32
	vendorData    []string
	vendorOptsEN  uint32
	vendorOpts    map[uint16][]byte
	maxLeaseTime  time.Duration
	interfaces    []InterfaceConfig
}

// Load reads and projects the configuration file at path. A missing path
// yields the built-in defaults.
func Load(path string) (*View, error) {
	var f File
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	return NewView(f)
}

// NewView validates and projects f.
func NewView(f File) (*View, error) {
	v := &View{
		duidFile:   f.DUIDFile,
		userClass:  append([]string(nil), f.UserClass...),
		interfaces: append([]InterfaceConfig(nil), f.Interfaces...),
	}
	if v.duidFile == "" {
		v.duidFile = defaultDUIDFile
	}

	if f.MaxLeaseTime != "" {
		d, err := time.ParseDuration(f.MaxLeaseTime)
		if err != nil {
			return nil, fmt.Errorf("maxLeaseTime: %w", err)
		}
		v.maxLeaseTime = d
	}

	if f.DefaultDUID != "" {
		d, err := dhcp6.ParseDUIDHex(f.DefaultDUID)
		if err != nil {
			return nil, fmt.Errorf("defaultDuid: %w", err)
		}
		v.defaultDUID = d
	}

	for _, s := range f.IgnoreServers {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("ignoreServers entry %q: %w", s, err)
		}
		v.ignoreServers = append(v.ignoreServers, a)
	}

	for _, p := range f.PreferredServers {
		var ps preferredServer
		ps.weight = p.Weight
		if p.Address == "" && p.ServerID == "" {
			return nil, fmt.Errorf("preferredServers entry needs an address or serverId")
		}
		if p.Address != "" {
			a, err := netip.ParseAddr(p.Address)
			if err != nil {
				return nil, fmt.Errorf("preferredServers address %q: %w", p.Address, err)
			}
			ps.addr = a
		}
		if p.ServerID != "" {
			d, err := dhcp6.ParseDUIDHex(p.ServerID)
			if err != nil {
				return nil, fmt.Errorf("preferredServers serverId %q: %w", p.ServerID, err)
			}
			ps.duid = dhcp6.DUIDBytes(d)
		}
		v.preferred = append(v.preferred, ps)
	}

	if f.VendorClass != nil && f.VendorClass.EnterpriseNumber != 0 {
		v.vendorEN = f.VendorClass.EnterpriseNumber
		v.vendorData = append([]string(nil), f.VendorClass.Data...)
	} else {
		v.vendorEN = defaultEnterpriseNumber
		v.vendorData = []string{PackageName + "/" + Version}
	}

	if f.VendorOpts != nil && f.VendorOpts.EnterpriseNumber != 0 {
		v.vendorOptsEN = f.VendorOpts.EnterpriseNumber
		v.vendorOpts = make(map[uint16][]byte, len(f.VendorOpts.Options))
		for num, val := range f.VendorOpts.Options {
			b, err := hex.DecodeString(strings.ReplaceAll(val, ":", ""))
			if err != nil {
				return nil, fmt.Errorf("vendorOpts option %d: %w", num, err)
			}
			v.vendorOpts[num] = b
		}
	}

	return v, nil
}

// DUIDFile returns the DUID persistence path.
func (v *View) DUIDFile() string { return v.duidFile }

// DefaultDUID returns the administratively configured DUID, if any.
func (v *View) DefaultDUID() (dhcp6.DUID, bool) {
	return v.defaultDUID, v.defaultDUID != nil
}

// IgnoreServer reports whether servers at addr are administratively ignored.
func (v *View) IgnoreServer(addr netip.Addr) bool {
	for _, a := range v.ignoreServers {
		if a == addr {
			return true
		}
	}
	return false
}

// ServerPreference looks up the configured weight for a server. Entries are
// tried in configuration order; within an entry the DUID is compared before
// the address, and the first entry matching either one wins.
func (v *View) ServerPreference(addr netip.Addr, duid dhcp6.DUID) (int, bool) {
	db := dhcp6.DUIDBytes(duid)
	for _, p := range v.preferred {
		if len(p.duid) > 0 && len(db) > 0 && string(p.duid) == string(db) {
			return p.weight, true
		}
		if p.addr.IsValid() && addr.IsValid() && p.addr == addr {
			return p.weight, true
		}
	}
	return 0, false
}

// UserClass returns the default user class strings.
func (v *View) UserClass() []string { return v.userClass }

// VendorClass returns the vendor class enterprise number and data.
func (v *View) VendorClass() (uint32, []string) { return v.vendorEN, v.vendorData }

// VendorOpts returns the vendor-specific option map, which may be empty.
func (v *View) VendorOpts() (uint32, map[uint16][]byte) { return v.vendorOptsEN, v.vendorOpts }

// MaxLeaseTime returns the global lease time cap; zero means uncapped.
func (v *View) MaxLeaseTime() time.Duration { return v.maxLeaseTime }

// Interfaces returns the interfaces managed at daemon startup.
func (v *View) Interfaces() []InterfaceConfig { return v.interfaces }
