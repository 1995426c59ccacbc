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
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/insomniacslk/dhcp/iana"
	"github.com/insomniacslk/dhcp/rfc1035label"
)

// Option is a single DHCPv6 option. MarshalBinary emits the full wire form
// `code (u16) | length (u16) | data`.
type Option interface {
	Code() OptionCode
	MarshalBinary() ([]byte, error)
}

// Options is an ordered option list. Order is preserved through a
// decode/encode round trip.
type Options []Option

// marshalOption prefixes body with the TLV header.
func marshalOption(code OptionCode, body []byte) ([]byte, error) {
	if len(body) > 0xffff {
		return nil, fmt.Errorf("%s option body exceeds 65535 bytes", code)
	}
	b := make([]byte, 4+len(body))
	binary.BigEndian.PutUint16(b[0:2], uint16(code))
	binary.BigEndian.PutUint16(b[2:4], uint16(len(body)))
	copy(b[4:], body)
	return b, nil
}

// MarshalBinary concatenates the wire form of every option in order.
func (opts Options) MarshalBinary() ([]byte, error) {
	var b []byte
	for _, o := range opts {
		ob, err := o.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b = append(b, ob...)
	}
	return b, nil
}

// Get returns all options with the given code, in order.
func (opts Options) Get(code OptionCode) []Option {
	var out []Option
	for _, o := range opts {
		if o.Code() == code {
			out = append(out, o)
		}
	}
	return out
}

// GetOne returns the first option with the given code, or nil.
func (opts Options) GetOne(code OptionCode) Option {
	for _, o := range opts {
		if o.Code() == code {
			return o
		}
	}
	return nil
}

// Add appends an option.
func (opts *Options) Add(o Option) {
	*opts = append(*opts, o)
}

// ClientID returns the Client-ID DUID, or nil.
func (opts Options) ClientID() DUID {
	if o, ok := opts.GetOne(OptionCodeClientID).(*ClientID); ok {
		return o.DUID
	}
	return nil
}

// ServerID returns the Server-ID DUID, or nil.
func (opts Options) ServerID() DUID {
	if o, ok := opts.GetOne(OptionCodeServerID).(*ServerID); ok {
		return o.DUID
	}
	return nil
}

// Status returns the top-level Status-Code option, or nil.
func (opts Options) Status() *StatusCode {
	o, _ := opts.GetOne(OptionCodeStatusCode).(*StatusCode)
	return o
}

// Preference returns the Preference value and whether it was present.
func (opts Options) Preference() (uint8, bool) {
	if o, ok := opts.GetOne(OptionCodePreference).(*Preference); ok {
		return o.Value, true
	}
	return 0, false
}

// IANAs returns every IA-NA option, in order.
func (opts Options) IANAs() []*IANA {
	var out []*IANA
	for _, o := range opts.Get(OptionCodeIANA) {
		if ia, ok := o.(*IANA); ok {
			out = append(out, ia)
		}
	}
	return out
}

// RapidCommitted reports whether a Rapid-Commit option is present.
func (opts Options) RapidCommitted() bool {
	return opts.GetOne(OptionCodeRapidCommit) != nil
}

// ClientID carries the client DUID (option 1).
type ClientID struct {
	DUID DUID
}

func (o *ClientID) Code() OptionCode { return OptionCodeClientID }

func (o *ClientID) MarshalBinary() ([]byte, error) {
	body, err := o.DUID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return marshalOption(o.Code(), body)
}

// ServerID carries the server DUID (option 2).
type ServerID struct {
	DUID DUID
}

func (o *ServerID) Code() OptionCode { return OptionCodeServerID }

func (o *ServerID) MarshalBinary() ([]byte, error) {
	body, err := o.DUID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return marshalOption(o.Code(), body)
}

// IANA is an identity association for non-temporary addresses (option 3).
// T1 and T2 are in seconds as on the wire.
type IANA struct {
	IAID    uint32
	T1      uint32
	T2      uint32
	Options Options
}

func (o *IANA) Code() OptionCode { return OptionCodeIANA }

func (o *IANA) MarshalBinary() ([]byte, error) {
	sub, err := o.Options.MarshalBinary()
	if err != nil {
		return nil, err
	}
	body := make([]byte, 12, 12+len(sub))
	binary.BigEndian.PutUint32(body[0:4], o.IAID)
	binary.BigEndian.PutUint32(body[4:8], o.T1)
	binary.BigEndian.PutUint32(body[8:12], o.T2)
	body = append(body, sub...)
	return marshalOption(o.Code(), body)
}

// Addresses returns the IA-Addr sub-options of the association.
func (o *IANA) Addresses() []*IAAddr {
	var out []*IAAddr
	for _, sub := range o.Options.Get(OptionCodeIAAddr) {
		if a, ok := sub.(*IAAddr); ok {
			out = append(out, a)
		}
	}
	return out
}

// Status returns the association's Status-Code sub-option, or nil.
func (o *IANA) Status() *StatusCode {
	return o.Options.Status()
}

// IAAddr is a single address binding inside an IA (option 5). Lifetimes are
// in seconds as on the wire.
type IAAddr struct {
	Addr      netip.Addr
	Preferred uint32
	Valid     uint32
	Options   Options
}

func (o *IAAddr) Code() OptionCode { return OptionCodeIAAddr }

func (o *IAAddr) MarshalBinary() ([]byte, error) {
	sub, err := o.Options.MarshalBinary()
	if err != nil {
		return nil, err
	}
	body := make([]byte, 24, 24+len(sub))
	a16 := o.Addr.As16()
	copy(body[0:16], a16[:])
	binary.BigEndian.PutUint32(body[16:20], o.Preferred)
	binary.BigEndian.PutUint32(body[20:24], o.Valid)
	body = append(body, sub...)
	return marshalOption(o.Code(), body)
}

// ORO is the option request option (option 6).
type ORO struct {
	Codes []OptionCode
}

func (o *ORO) Code() OptionCode { return OptionCodeORO }

func (o *ORO) MarshalBinary() ([]byte, error) {
	body := make([]byte, 2*len(o.Codes))
	for i, c := range o.Codes {
		binary.BigEndian.PutUint16(body[2*i:], uint16(c))
	}
	return marshalOption(o.Code(), body)
}

// Preference is the server preference (option 7).
type Preference struct {
	Value uint8
}

func (o *Preference) Code() OptionCode { return OptionCodePreference }

func (o *Preference) MarshalBinary() ([]byte, error) {
	return marshalOption(o.Code(), []byte{o.Value})
}

// ElapsedTime reports how long the client has been trying to complete the
// exchange, in hundredths of a second (option 8).
type ElapsedTime struct {
	Hundredths uint16
}

func (o *ElapsedTime) Code() OptionCode { return OptionCodeElapsedTime }

func (o *ElapsedTime) MarshalBinary() ([]byte, error) {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, o.Hundredths)
	return marshalOption(o.Code(), body)
}

// ElapsedTimeSince builds an ElapsedTime measuring from start to now,
// saturating at 0xffff (about 655 seconds).
func ElapsedTimeSince(start, now time.Time) *ElapsedTime {
	if start.IsZero() || !now.After(start) {
		return &ElapsedTime{}
	}
	hundredths := now.Sub(start) / (10 * time.Millisecond)
	if hundredths > 0xffff {
		hundredths = 0xffff
	}
	return &ElapsedTime{Hundredths: uint16(hundredths)}
}

// StatusCode carries a status code and message (option 13).
type StatusCode struct {
	StatusCode iana.StatusCode
	Message    string
}

func (o *StatusCode) Code() OptionCode { return OptionCodeStatusCode }

func (o *StatusCode) MarshalBinary() ([]byte, error) {
	body := make([]byte, 2+len(o.Message))
	binary.BigEndian.PutUint16(body[0:2], uint16(o.StatusCode))
	copy(body[2:], o.Message)
	return marshalOption(OptionCodeStatusCode, body)
}

// RapidCommit signals a two-message exchange (option 14). Empty body.
type RapidCommit struct{}

func (o *RapidCommit) Code() OptionCode { return OptionCodeRapidCommit }

func (o *RapidCommit) MarshalBinary() ([]byte, error) {
	return marshalOption(o.Code(), nil)
}

// UserClass is a sequence of length-prefixed opaque class data items
// (option 15).
type UserClass struct {
	Data [][]byte
}

func (o *UserClass) Code() OptionCode { return OptionCodeUserClass }

func (o *UserClass) MarshalBinary() ([]byte, error) {
	body, err := marshalClassData(o.Data)
	if err != nil {
		return nil, err
	}
	return marshalOption(o.Code(), body)
}

// VendorClass is an enterprise number plus length-prefixed class data
// (option 16).
type VendorClass struct {
	EnterpriseNumber uint32
	Data             [][]byte
}

func (o *VendorClass) Code() OptionCode { return OptionCodeVendorClass }

func (o *VendorClass) MarshalBinary() ([]byte, error) {
	classes, err := marshalClassData(o.Data)
	if err != nil {
		return nil, err
	}
	body := make([]byte, 4, 4+len(classes))
	binary.BigEndian.PutUint32(body, o.EnterpriseNumber)
	body = append(body, classes...)
	return marshalOption(o.Code(), body)
}

// VendorOpts nests vendor-specific options under an enterprise number
// (option 17). Sub-options are kept raw.
type VendorOpts struct {
	EnterpriseNumber uint32
	Options          []*RawOption
}

func (o *VendorOpts) Code() OptionCode { return OptionCodeVendorOpts }

func (o *VendorOpts) MarshalBinary() ([]byte, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, o.EnterpriseNumber)
	for _, sub := range o.Options {
		sb, err := sub.MarshalBinary()
		if err != nil {
			return nil, err
		}
		body = append(body, sb...)
	}
	return marshalOption(o.Code(), body)
}

// ReconfigureAccept announces willingness to accept Reconfigure messages
// (option 20). Empty body.
type ReconfigureAccept struct{}

func (o *ReconfigureAccept) Code() OptionCode { return OptionCodeReconfigureAccept }

func (o *ReconfigureAccept) MarshalBinary() ([]byte, error) {
	return marshalOption(o.Code(), nil)
}

// DNSServers lists recursive DNS servers (option 23, RFC 3646).
type DNSServers struct {
	Servers []netip.Addr
}

func (o *DNSServers) Code() OptionCode { return OptionCodeDNSServers }

func (o *DNSServers) MarshalBinary() ([]byte, error) {
	body := make([]byte, 16*len(o.Servers))
	for i, a := range o.Servers {
		a16 := a.As16()
		copy(body[16*i:], a16[:])
	}
	return marshalOption(o.Code(), body)
}

// DomainList is the domain search list (option 24, RFC 3646), encoded as
// RFC 1035 labels.
type DomainList struct {
	Domains []string
}

func (o *DomainList) Code() OptionCode { return OptionCodeDomainList }

func (o *DomainList) MarshalBinary() ([]byte, error) {
	labels := rfc1035label.Labels{Labels: o.Domains}
	return marshalOption(o.Code(), labels.ToBytes())
}

// RawOption preserves options this package does not model.
type RawOption struct {
	OptionCode OptionCode
	Data       []byte
}

func (o *RawOption) Code() OptionCode { return o.OptionCode }

func (o *RawOption) MarshalBinary() ([]byte, error) {
	return marshalOption(o.OptionCode, o.Data)
}

func marshalClassData(items [][]byte) ([]byte, error) {
	var body []byte
	for _, item := range items {
		if len(item) > 0xffff {
			return nil, fmt.Errorf("class data item exceeds 65535 bytes")
		}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(item)))
		body = append(body, l[:]...)
		body = append(body, item...)
	}
	return body, nil
}

func parseClassData(b []byte, code OptionCode, base int) ([][]byte, error) {
	var items [][]byte
	off := 0
	for off < len(b) {
		if off+2 > len(b) {
			return nil, &MalformedError{Option: code, Offset: base + off}
		}
		l := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if off+l > len(b) {
			return nil, &MalformedError{Option: code, Offset: base + off}
		}
		items = append(items, append([]byte(nil), b[off:off+l]...))
		off += l
	}
	return items, nil
}

// ParseOptions decodes a run of TLV options. base is the absolute offset of
// b within the datagram, used to report truncation positions.
func ParseOptions(b []byte, base int) (Options, error) {
	var opts Options
	off := 0
	for off < len(b) {
		if off+4 > len(b) {
			return nil, &MalformedError{Offset: base + off}
		}
		code := OptionCode(binary.BigEndian.Uint16(b[off : off+2]))
		length := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		if off+4+length > len(b) {
			return nil, &MalformedError{Option: code, Offset: base + off}
		}
		data := b[off+4 : off+4+length]
		opt, err := parseOption(code, data, base+off+4)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
		off += 4 + length
	}
	return opts, nil
}

func parseOption(code OptionCode, data []byte, base int) (Option, error) {
	switch code {
	case OptionCodeClientID:
		d, err := ParseDUID(data)
		if err != nil {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &ClientID{DUID: d}, nil
	case OptionCodeServerID:
		d, err := ParseDUID(data)
		if err != nil {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &ServerID{DUID: d}, nil
	case OptionCodeIANA:
		if len(data) < 12 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		sub, err := ParseOptions(data[12:], base+12)
		if err != nil {
			return nil, err
		}
		return &IANA{
			IAID:    binary.BigEndian.Uint32(data[0:4]),
			T1:      binary.BigEndian.Uint32(data[4:8]),
			T2:      binary.BigEndian.Uint32(data[8:12]),
			Options: sub,
		}, nil
	case OptionCodeIAAddr:
		if len(data) < 24 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		sub, err := ParseOptions(data[24:], base+24)
		if err != nil {
			return nil, err
		}
		addr, _ := netip.AddrFromSlice(data[0:16])
		return &IAAddr{
			Addr:      addr,
			Preferred: binary.BigEndian.Uint32(data[16:20]),
			Valid:     binary.BigEndian.Uint32(data[20:24]),
			Options:   sub,
		}, nil
	case OptionCodeORO:
		if len(data)%2 != 0 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		codes := make([]OptionCode, len(data)/2)
		for i := range codes {
			codes[i] = OptionCode(binary.BigEndian.Uint16(data[2*i:]))
		}
		return &ORO{Codes: codes}, nil
	case OptionCodePreference:
		if len(data) != 1 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &Preference{Value: data[0]}, nil
	case OptionCodeElapsedTime:
		if len(data) != 2 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &ElapsedTime{Hundredths: binary.BigEndian.Uint16(data)}, nil
	case OptionCodeStatusCode:
		if len(data) < 2 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &StatusCode{
			StatusCode: iana.StatusCode(binary.BigEndian.Uint16(data[0:2])),
			Message:    string(data[2:]),
		}, nil
	case OptionCodeRapidCommit:
		if len(data) != 0 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &RapidCommit{}, nil
	case OptionCodeUserClass:
		items, err := parseClassData(data, code, base)
		if err != nil {
			return nil, err
		}
		return &UserClass{Data: items}, nil
	case OptionCodeVendorClass:
		if len(data) < 4 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		items, err := parseClassData(data[4:], code, base+4)
		if err != nil {
			return nil, err
		}
		return &VendorClass{
			EnterpriseNumber: binary.BigEndian.Uint32(data[0:4]),
			Data:             items,
		}, nil
	case OptionCodeVendorOpts:
		if len(data) < 4 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		// Vendor sub-option codes live in the enterprise's own registry,
		// so they stay raw rather than going through the typed parser.
		var raw []*RawOption
		sub := data[4:]
		off := 0
		for off < len(sub) {
			if off+4 > len(sub) {
				return nil, &MalformedError{Option: code, Offset: base + 4 + off}
			}
			sc := OptionCode(binary.BigEndian.Uint16(sub[off : off+2]))
			sl := int(binary.BigEndian.Uint16(sub[off+2 : off+4]))
			if off+4+sl > len(sub) {
				return nil, &MalformedError{Option: code, Offset: base + 4 + off}
			}
			raw = append(raw, &RawOption{
				OptionCode: sc,
				Data:       append([]byte(nil), sub[off+4:off+4+sl]...),
			})
			off += 4 + sl
		}
		return &VendorOpts{
			EnterpriseNumber: binary.BigEndian.Uint32(data[0:4]),
			Options:          raw,
		}, nil
	case OptionCodeReconfigureAccept:
		if len(data) != 0 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &ReconfigureAccept{}, nil
	case OptionCodeDNSServers:
		if len(data)%16 != 0 {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		servers := make([]netip.Addr, len(data)/16)
		for i := range servers {
			servers[i], _ = netip.AddrFromSlice(data[16*i : 16*i+16])
		}
		return &DNSServers{Servers: servers}, nil
	case OptionCodeDomainList:
		labels, err := rfc1035label.FromBytes(data)
		if err != nil {
			return nil, &MalformedError{Option: code, Offset: base}
		}
		return &DomainList{Domains: labels.Labels}, nil
	default:
		return &RawOption{OptionCode: code, Data: append([]byte(nil), data...)}, nil
	}
}
