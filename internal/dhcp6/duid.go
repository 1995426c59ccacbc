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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"
)

// DUIDType identifies one of the DUID flavors from RFC 3315 section 9.
type DUIDType uint16

const (
	DUIDTypeLLT  DUIDType = 1
	DUIDTypeEN   DUIDType = 2
	DUIDTypeLL   DUIDType = 3
	DUIDTypeUUID DUIDType = 4
)

// MaxDUIDLen is the longest DUID the protocol permits, excluding the
// two-byte type prefix.
const MaxDUIDLen = 128

// duidEpoch is the DUID-LLT time base, January 1st 2000 UTC.
var duidEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DUID is a DHCP unique identifier. Implementations marshal to the wire
// form including the leading type field.
type DUID interface {
	Type() DUIDType
	MarshalBinary() ([]byte, error)
}

// DUIDLLT is a link-layer address plus time identifier.
type DUIDLLT struct {
	HWType        iana.HWType
	Time          uint32
	LinkLayerAddr net.HardwareAddr
}

func (d *DUIDLLT) Type() DUIDType { return DUIDTypeLLT }

func (d *DUIDLLT) MarshalBinary() ([]byte, error) {
	b := make([]byte, 8+len(d.LinkLayerAddr))
	binary.BigEndian.PutUint16(b[0:2], uint16(DUIDTypeLLT))
	binary.BigEndian.PutUint16(b[2:4], uint16(d.HWType))
	binary.BigEndian.PutUint32(b[4:8], d.Time)
	copy(b[8:], d.LinkLayerAddr)
	return b, nil
}

// DUIDLL is a link-layer address identifier.
type DUIDLL struct {
	HWType        iana.HWType
	LinkLayerAddr net.HardwareAddr
}

func (d *DUIDLL) Type() DUIDType { return DUIDTypeLL }

func (d *DUIDLL) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4+len(d.LinkLayerAddr))
	binary.BigEndian.PutUint16(b[0:2], uint16(DUIDTypeLL))
	binary.BigEndian.PutUint16(b[2:4], uint16(d.HWType))
	copy(b[4:], d.LinkLayerAddr)
	return b, nil
}

// DUIDEN is an enterprise number plus opaque identifier.
type DUIDEN struct {
	EnterpriseNumber uint32
	Identifier       []byte
}

func (d *DUIDEN) Type() DUIDType { return DUIDTypeEN }

func (d *DUIDEN) MarshalBinary() ([]byte, error) {
	b := make([]byte, 6+len(d.Identifier))
	binary.BigEndian.PutUint16(b[0:2], uint16(DUIDTypeEN))
	binary.BigEndian.PutUint32(b[2:6], d.EnterpriseNumber)
	copy(b[6:], d.Identifier)
	return b, nil
}

// DUIDUUID carries a 128-bit UUID (RFC 6355).
type DUIDUUID struct {
	UUID uuid.UUID
}

func (d *DUIDUUID) Type() DUIDType { return DUIDTypeUUID }

func (d *DUIDUUID) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2+16)
	binary.BigEndian.PutUint16(b[0:2], uint16(DUIDTypeUUID))
	copy(b[2:], d.UUID[:])
	return b, nil
}

// DUIDOpaque preserves identifiers of types this package does not model;
// server DUIDs are treated as opaque tokens anyway.
type DUIDOpaque struct {
	DUIDType DUIDType
	Data     []byte
}

func (d *DUIDOpaque) Type() DUIDType { return d.DUIDType }

func (d *DUIDOpaque) MarshalBinary() ([]byte, error) {
	b := make([]byte, 2+len(d.Data))
	binary.BigEndian.PutUint16(b[0:2], uint16(d.DUIDType))
	copy(b[2:], d.Data)
	return b, nil
}

// NewDUIDLLT builds a DUID-LLT for the given hardware address with the
// time field computed from t.
func NewDUIDLLT(hwType iana.HWType, t time.Time, addr net.HardwareAddr) *DUIDLLT {
	return &DUIDLLT{
		HWType:        hwType,
		Time:          uint32(t.Sub(duidEpoch) / time.Second),
		LinkLayerAddr: addr,
	}
}

// ParseDUID decodes a DUID from its wire form.
func ParseDUID(b []byte) (DUID, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("DUID too short: %d bytes", len(b))
	}
	if len(b) > 2+MaxDUIDLen {
		return nil, fmt.Errorf("DUID too long: %d bytes", len(b))
	}
	typ := DUIDType(binary.BigEndian.Uint16(b[0:2]))
	rest := b[2:]
	switch typ {
	case DUIDTypeLLT:
		if len(rest) < 6 {
			return nil, fmt.Errorf("DUID-LLT too short: %d bytes", len(b))
		}
		return &DUIDLLT{
			HWType:        iana.HWType(binary.BigEndian.Uint16(rest[0:2])),
			Time:          binary.BigEndian.Uint32(rest[2:6]),
			LinkLayerAddr: append(net.HardwareAddr(nil), rest[6:]...),
		}, nil
	case DUIDTypeLL:
		if len(rest) < 2 {
			return nil, fmt.Errorf("DUID-LL too short: %d bytes", len(b))
		}
		return &DUIDLL{
			HWType:        iana.HWType(binary.BigEndian.Uint16(rest[0:2])),
			LinkLayerAddr: append(net.HardwareAddr(nil), rest[2:]...),
		}, nil
	case DUIDTypeEN:
		if len(rest) < 4 {
			return nil, fmt.Errorf("DUID-EN too short: %d bytes", len(b))
		}
		return &DUIDEN{
			EnterpriseNumber: binary.BigEndian.Uint32(rest[0:4]),
			Identifier:       append([]byte(nil), rest[4:]...),
		}, nil
	case DUIDTypeUUID:
		if len(rest) != 16 {
			return nil, fmt.Errorf("DUID-UUID must carry 16 bytes, got %d", len(rest))
		}
		var d DUIDUUID
		copy(d.UUID[:], rest)
		return &d, nil
	default:
		return &DUIDOpaque{DUIDType: typ, Data: append([]byte(nil), rest...)}, nil
	}
}

// ParseDUIDHex decodes a DUID from a colon- or dash-separated hex string,
// e.g. "00:03:00:01:02:42:ac:11:00:02".
func ParseDUIDHex(s string) (DUID, error) {
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid DUID hex string: %w", err)
	}
	return ParseDUID(b)
}

// DUIDBytes marshals d, returning nil on a nil DUID.
func DUIDBytes(d DUID) []byte {
	if d == nil {
		return nil
	}
	b, err := d.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

// DUIDEqual compares two DUIDs by wire representation.
func DUIDEqual(a, b DUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return bytes.Equal(DUIDBytes(a), DUIDBytes(b))
}

// DUIDString formats a DUID as colon-separated hex, the form used in
// configuration files and logs.
func DUIDString(d DUID) string {
	b := DUIDBytes(d)
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", c)
	}
	return sb.String()
}
