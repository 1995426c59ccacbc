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

package dhcp6

import (
	"bytes"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"
)

func TestDUIDRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		duid DUID
	}{
		{
			name: "llt",
			duid: &DUIDLLT{
				HWType:        iana.HWTypeEthernet,
				Time:          0x2fc81fb0,
				LinkLayerAddr: net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
			},
		},
		{
			name: "ll",
			duid: &DUIDLL{
				HWType:        iana.HWTypeEthernet,
				LinkLayerAddr: net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
			},
		},
		{
			name: "en",
			duid: &DUIDEN{EnterpriseNumber: 7075, Identifier: []byte("supplicant-01")},
		},
		{
			name: "uuid",
			duid: &DUIDUUID{UUID: uuid.MustParse("f47ac10b-58cc-0372-8567-0e02b2c3d479")},
		},
		{
			name: "opaque unknown type",
			duid: &DUIDOpaque{DUIDType: 9, Data: []byte{1, 2, 3, 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.duid.MarshalBinary()
			if err != nil {
				t.Fatalf("MarshalBinary() error = %v", err)
			}
			got, err := ParseDUID(b)
			if err != nil {
				t.Fatalf("ParseDUID() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.duid) {
				t.Errorf("ParseDUID() = %#v, want %#v", got, tt.duid)
			}
			if !DUIDEqual(got, tt.duid) {
				t.Error("DUIDEqual() = false for round-tripped DUID")
			}
		})
	}
}

func TestParseDUIDHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    DUID
		wantErr bool
	}{
		{
			name:  "colon separated ll",
			input: "00:03:00:01:02:42:ac:11:00:02",
			want: &DUIDLL{
				HWType:        iana.HWTypeEthernet,
				LinkLayerAddr: net.HardwareAddr{0x02, 0x42, 0xac, 0x11, 0x00, 0x02},
			},
		},
		{
			name:  "bare hex en",
			input: "000200001ba301",
			want:  &DUIDEN{EnterpriseNumber: 7075, Identifier: []byte{0x01}},
		},
		{
			name:    "odd digit count",
			input:   "00:03:0",
			wantErr: true,
		},
		{
			name:    "not hex",
			input:   "zz:zz",
			wantErr: true,
		},
		{
			name:    "too short",
			input:   "00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDUIDHex(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDUIDHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDUIDHex() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseDUIDRejectsOversize(t *testing.T) {
	b := make([]byte, 2+MaxDUIDLen+1)
	if _, err := ParseDUID(b); err == nil {
		t.Error("ParseDUID() accepted an oversized DUID")
	}
}

func TestNewDUIDLLTTime(t *testing.T) {
	// One hour past the DUID epoch.
	at := time.Date(2000, time.January, 1, 1, 0, 0, 0, time.UTC)
	d := NewDUIDLLT(iana.HWTypeEthernet, at, net.HardwareAddr{1, 2, 3, 4, 5, 6})
	if d.Time != 3600 {
		t.Errorf("Time = %d, want 3600", d.Time)
	}
}

func TestDUIDString(t *testing.T) {
	d := &DUIDLL{HWType: iana.HWTypeEthernet, LinkLayerAddr: net.HardwareAddr{0xaa, 0xbb}}
	if got, want := DUIDString(d), "00:03:00:01:aa:bb"; got != want {
		t.Errorf("DUIDString() = %q, want %q", got, want)
	}

	parsed, err := ParseDUIDHex(DUIDString(d))
	if err != nil {
		t.Fatalf("ParseDUIDHex(DUIDString()) error = %v", err)
	}
	if !bytes.Equal(DUIDBytes(parsed), DUIDBytes(d)) {
		t.Error("hex format did not round-trip")
	}
}
