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
	"math/rand"
	"time"

	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// TimingParams is the RFC 3315 section 14 parameter set for one exchange.
type TimingParams struct {
	// IRT is the initial retransmission time.
	IRT time.Duration

	// MRT bounds the retransmission time; zero means unbounded.
	MRT time.Duration

	// MRC bounds the number of transmissions; zero means unlimited.
	MRC int

	// MRD bounds the exchange duration; zero means unlimited.
	MRD time.Duration

	// Delay is the maximum uniform-random delay before the first
	// transmission.
	Delay time.Duration

	// MaxJitter is the randomization factor bound, 0.1 for the RFC's
	// RAND in [-0.1, +0.1].
	MaxJitter float64

	// PosJitter forces the very first RT to use RAND in (0, +0.1],
	// required for Solicit by RFC 3315 section 17.1.2.
	PosJitter bool
}

// defaultMaxJitter is RAND's bound per RFC 3315 section 5.5.
const defaultMaxJitter = 0.1

// timingFor returns the transmission parameters for a client message type
// (RFC 3315 section 5.5). Renew and Rebind get their MRD from the lease's
// T2 and valid lifetime; the state machine fills it in.
func timingFor(t dhcp6.MessageType) (TimingParams, bool) {
	p := TimingParams{MaxJitter: defaultMaxJitter}
	switch t {
	case dhcp6.MessageTypeSolicit:
		p.Delay = time.Second // SOL_MAX_DELAY
		p.IRT = time.Second
		p.MRT = 120 * time.Second
		p.PosJitter = true
	case dhcp6.MessageTypeRequest:
		p.IRT = time.Second
		p.MRT = 30 * time.Second
		p.MRC = 10
	case dhcp6.MessageTypeConfirm:
		p.Delay = time.Second // CNF_MAX_DELAY
		p.IRT = time.Second
		p.MRT = 4 * time.Second
		p.MRD = 10 * time.Second
	case dhcp6.MessageTypeRenew:
		p.IRT = 10 * time.Second
		p.MRT = 600 * time.Second
	case dhcp6.MessageTypeRebind:
		p.IRT = 10 * time.Second
		p.MRT = 600 * time.Second
	case dhcp6.MessageTypeRelease:
		p.IRT = time.Second
		p.MRC = 5
	case dhcp6.MessageTypeDecline:
		p.IRT = time.Second
		p.MRC = 5
	case dhcp6.MessageTypeInformationRequest:
		p.Delay = time.Second // INF_MAX_DELAY
		p.IRT = time.Second
		p.MRT = 120 * time.Second
	default:
		return TimingParams{}, false
	}
	return p, true
}

// retransmitter tracks the retransmission schedule of one exchange.
type retransmitter struct {
	params   TimingParams
	start    time.Time
	deadline time.Time
	rt       time.Duration
	count    int
}

// jitter draws RAND*base. With posOnly, RAND is uniform in (0, MaxJitter];
// otherwise uniform in [-MaxJitter, +MaxJitter].
func (r *retransmitter) jitter(rng *rand.Rand, base time.Duration, posOnly bool) time.Duration {
	var f float64
	if posOnly {
		// Float64 is in [0, 1); 1-Float64 is in (0, 1].
		f = (1 - rng.Float64()) * r.params.MaxJitter
		if d := time.Duration(f * float64(base)); d > 0 {
			return d
		}
		// Strictly greater than zero, whatever the rounding did.
		return time.Nanosecond
	}
	f = (rng.Float64()*2 - 1) * r.params.MaxJitter
	return time.Duration(f * float64(base))
}

// initialDelay draws the pre-transmission delay in [0, Delay], or zero when
// the exchange has none.
func (r *retransmitter) initialDelay(rng *rand.Rand) time.Duration {
	if r.params.Delay <= 0 {
		return 0
	}
	return time.Duration(rng.Float64() * float64(r.params.Delay))
}

// arm starts the exchange clock at the first transmission and computes the
// first RT.
func (r *retransmitter) arm(rng *rand.Rand, now time.Time) {
	r.start = now
	r.count = 1
	r.rt = r.params.IRT + r.jitter(rng, r.params.IRT, r.params.PosJitter)
	r.deadline = now.Add(r.rt)
	if r.params.MRD > 0 {
		if cutoff := r.start.Add(r.params.MRD); r.deadline.After(cutoff) {
			r.deadline = cutoff
		}
	}
}

// advance moves to the next RT. It returns false when the exchange has
// expired per MRC or MRD; the caller then signals exchange failure.
func (r *retransmitter) advance(rng *rand.Rand, now time.Time) bool {
	if r.params.MRC > 0 && r.count >= r.params.MRC {
		return false
	}
	if r.params.MRD > 0 && now.Sub(r.start) >= r.params.MRD {
		return false
	}

	rt := 2*r.rt + r.jitter(rng, r.rt, false)
	if r.params.MRT > 0 && rt > r.params.MRT {
		rt = r.params.MRT + r.jitter(rng, r.params.MRT, false)
	}
	r.rt = rt
	r.count++
	r.deadline = now.Add(rt)

	// Never fire past the MRD cutoff.
	if r.params.MRD > 0 {
		if cutoff := r.start.Add(r.params.MRD); r.deadline.After(cutoff) {
			r.deadline = cutoff
		}
	}
	return true
}

// disarm clears the schedule.
func (r *retransmitter) disarm() {
	*r = retransmitter{}
}

// armed reports whether an exchange schedule is active.
func (r *retransmitter) armed() bool {
	return !r.deadline.IsZero()
}
