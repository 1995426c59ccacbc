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
	"math/rand"
	"net"
	"testing"

	"github.com/insomniacslk/dhcp/iana"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Type:          MessageTypeSolicit,
		TransactionID: 0x00abcdef,
		Options: Options{
			&ClientID{DUID: &DUIDLL{
				HWType:        iana.HWTypeEthernet,
				LinkLayerAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6},
			}},
			&ElapsedTime{Hundredths: 0},
			&ORO{Codes: []OptionCode{OptionCodeDNSServers}},
		},
	}

	b, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	if b[0] != uint8(MessageTypeSolicit) {
		t.Errorf("msg-type byte = %d, want %d", b[0], MessageTypeSolicit)
	}
	if got := [3]byte{b[1], b[2], b[3]}; got != [3]byte{0xab, 0xcd, 0xef} {
		t.Errorf("xid bytes = %x, want abcdef", got)
	}

	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != msg.Type {
		t.Errorf("Type = %v, want %v", parsed.Type, msg.Type)
	}
	if parsed.TransactionID != msg.TransactionID {
		t.Errorf("TransactionID = %v, want %v", parsed.TransactionID, msg.TransactionID)
	}

	b2, err := parsed.MarshalBinary()
	if err != nil {
		t.Fatalf("re-encode error = %v", err)
	}
	if !bytes.Equal(b, b2) {
		t.Errorf("encode(decode(b)) = %x, want %x", b2, b)
	}
}

func TestParseMessageTruncated(t *testing.T) {
	for _, input := range [][]byte{nil, {1}, {1, 0, 0}} {
		if _, err := ParseMessage(input); err == nil {
			t.Errorf("ParseMessage(%x) succeeded, want error", input)
		}
	}
}

func TestMarshalRejectsWideTransactionID(t *testing.T) {
	msg := &Message{Type: MessageTypeSolicit, TransactionID: 0x01000000}
	if _, err := msg.MarshalBinary(); err == nil {
		t.Error("MarshalBinary() accepted a 25-bit transaction id")
	}
}

func TestNewTransactionID(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seen := map[TransactionID]bool{}
	for i := 0; i < 1000; i++ {
		xid := NewTransactionID(rng)
		if xid == 0 {
			t.Fatal("NewTransactionID() returned zero")
		}
		if xid&^TransactionIDMask != 0 {
			t.Fatalf("NewTransactionID() = %#x, exceeds 24 bits", uint32(xid))
		}
		seen[xid] = true
	}
	if len(seen) < 990 {
		t.Errorf("only %d distinct ids in 1000 draws", len(seen))
	}
}
