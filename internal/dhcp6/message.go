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
	"fmt"
	"math/rand"
)

// headerLen is the fixed DHCPv6 client/server message header:
// msg-type (u8) followed by a 24-bit transaction id.
const headerLen = 4

// Message is a DHCPv6 client/server message.
type Message struct {
	Type          MessageType
	TransactionID TransactionID
	Options       Options
}

// MarshalBinary emits the wire form of the message.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m.TransactionID&^TransactionIDMask != 0 {
		return nil, fmt.Errorf("transaction id %#x exceeds 24 bits", uint32(m.TransactionID))
	}
	opts, err := m.Options.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b := make([]byte, headerLen, headerLen+len(opts))
	b[0] = uint8(m.Type)
	b[1] = uint8(m.TransactionID >> 16)
	b[2] = uint8(m.TransactionID >> 8)
	b[3] = uint8(m.TransactionID)
	return append(b, opts...), nil
}

// ParseMessage decodes a datagram into a message. Truncated or
// inconsistent option data yields a MalformedError.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < headerLen {
		return nil, &MalformedError{Offset: len(b)}
	}
	opts, err := ParseOptions(b[headerLen:], headerLen)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:          MessageType(b[0]),
		TransactionID: TransactionID(b[1])<<16 | TransactionID(b[2])<<8 | TransactionID(b[3]),
		Options:       opts,
	}, nil
}

// NewTransactionID draws a nonzero 24-bit transaction id from rng.
func NewTransactionID(rng *rand.Rand) TransactionID {
	for {
		if xid := TransactionID(rng.Uint32()) & TransactionIDMask; xid != 0 {
			return xid
		}
	}
}
