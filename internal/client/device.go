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
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/jr42/dhcp6-supplicant/internal/config"
	"github.com/jr42/dhcp6-supplicant/internal/dhcp6"
)

// State is the device FSM state.
type State int

const (
	StateInit State = iota
	StateSelecting
	StateRequesting
	StateConfirming
	StateBound
	StateRenewing
	StateRebinding
	StateInfoRequesting
	StateReleasing
	StateDeclining
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSelecting:
		return "SELECTING"
	case StateRequesting:
		return "REQUESTING"
	case StateConfirming:
		return "CONFIRMING"
	case StateBound:
		return "BOUND"
	case StateRenewing:
		return "RENEWING"
	case StateRebinding:
		return "REBINDING"
	case StateInfoRequesting:
		return "INFO-REQUESTING"
	case StateReleasing:
		return "RELEASING"
	case StateDeclining:
		return "DECLINING"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("STATE-%d", int(s))
	}
}

// transientRetryDelay is the pause before retrying a failed socket open or
// similar transient I/O problem.
const transientRetryDelay = time.Second

// offer is the best Advertise seen during server selection.
type offer struct {
	pref int
	msg  *dhcp6.Message
	from netip.Addr
}

// Device is the per-interface DHCPv6 client context. All state is guarded
// by mu; the timer callback and socket reader serialize through it, so for
// a given device events are handled in arrival order.
type Device struct {
	mu sync.Mutex

	link  LinkInfo
	view  *config.View
	store *DUIDStore
	emit  func(Event)
	log   logr.Logger

	// Injection points for tests.
	now       func() time.Time
	rng       *rand.Rand
	dial      func(LinkInfo, netip.Addr) (transportConn, error)
	refresh   func(LinkInfo) (netip.Addr, error)
	afterFunc func(time.Duration, func()) *time.Timer

	state  State
	llAddr netip.Addr
	conn   transportConn

	timer    *time.Timer
	timerGen int

	xid        dhcp6.TransactionID
	msgType    dhcp6.MessageType
	msg        []byte
	serverAddr netip.AddrPort
	unicast    bool
	retrans    retransmitter

	// exchangeStart is the first-transmit instant of the current exchange,
	// the elapsed-time base.
	exchangeStart time.Time

	// Deadlines beyond the retransmission schedule. The single armed timer
	// is always the earliest of these and the retransmit deadline.
	delayAt       time.Time // pending initial transmission delay
	stateDeadline time.Time // T1 while BOUND
	retryAt       time.Time // transient-failure retry
	retryType     dhcp6.MessageType

	request    *Request
	config     *Config
	lease      *Lease
	offerLease *Lease // lease view of the committed Advertise
	exchLease  *Lease // lease the current exchange refers to
	bestOffer  *offer

	dropped uint64
	closed  bool
}

func newDevice(link LinkInfo, view *config.View, store *DUIDStore, emit func(Event), log logr.Logger) *Device {
	return &Device{
		link:      link,
		view:      view,
		store:     store,
		emit:      emit,
		log:       log.WithName("device").WithValues("ifname", link.Name, "ifindex", link.Index),
		now:       time.Now,
		rng:       rand.New(rand.NewSource(rand.Int63())),
		dial:      dialTransport,
		refresh:   linkLocalAddr,
		afterFunc: time.AfterFunc,
		state:     StateInit,
	}
}

// Ifindex returns the interface index, the device's stable key.
func (d *Device) Ifindex() int { return d.link.Index }

// Ifname returns the interface name.
func (d *Device) Ifname() string { return d.link.Name }

// State returns the FSM state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Lease returns the bound lease, if any.
func (d *Device) Lease() *Lease {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lease
}

// Request returns the stored request driving the device.
func (d *Device) Request() *Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.request
}

// Dropped returns the count of silently discarded datagrams.
func (d *Device) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// deriveIAID computes the interface's identity association id: the low
// four bytes of the hardware address, or hash32(ifname) xor ifindex when
// the address is shorter than four bytes.
func deriveIAID(link LinkInfo) uint32 {
	hw := link.HardwareAddr
	if len(hw) >= 4 {
		return binary.BigEndian.Uint32(hw[len(hw)-4:])
	}
	h := fnv.New32a()
	h.Write([]byte(link.Name))
	return h.Sum32() ^ uint32(link.Index)
}

// Acquire starts (or restarts) lease acquisition for the device.
// Configuration failures are returned synchronously; once Acquire returns
// nil the request is answered by a lease event.
func (d *Device) Acquire(req *Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%s: device closed", d.link.Name)
	}

	ll, err := d.refresh(d.link)
	if err != nil {
		return fmt.Errorf("%s: %w", d.link.Name, err)
	}
	d.llAddr = ll

	deflt, _ := d.view.DefaultDUID()
	duid, err := d.store.Resolve(d.link, req.ClientDUID, deflt)
	if duid == nil {
		return fmt.Errorf("%s: %w", d.link.Name, ErrNoDUID)
	}
	if err != nil {
		// The identity is usable, only its persistence failed; surface
		// and carry on.
		d.log.Error(err, "client DUID not persisted")
	}

	update := req.Update
	if update == 0 {
		update = UpdateDefault
	}
	maxLease := d.view.MaxLeaseTime()
	if req.LeaseTime > 0 && (maxLease == 0 || req.LeaseTime < maxLease) {
		maxLease = req.LeaseTime
	}
	vcEN, vcData := d.view.VendorClass()
	voEN, voData := d.view.VendorOpts()
	d.config = &Config{
		UUID:              req.UUID,
		DUID:              duid,
		IAID:              deriveIAID(d.link),
		Update:            update,
		InfoOnly:          req.InfoOnly,
		RapidCommit:       req.RapidCommit,
		ReconfigureAccept: req.ReconfigureAccept,
		Hostname:          req.Hostname,
		UserClass:         d.view.UserClass(),
		VendorClassEN:     vcEN,
		VendorClassData:   vcData,
		VendorOptsEN:      voEN,
		VendorOpts:        voData,
		MaxLeaseTime:      maxLease,
	}
	d.request = req

	now := d.now()
	switch {
	case req.InfoOnly:
		d.state = StateInfoRequesting
		d.startExchange(dhcp6.MessageTypeInformationRequest, now)
	case d.lease != nil && d.lease.Valid(now):
		d.state = StateConfirming
		d.startExchange(dhcp6.MessageTypeConfirm, now)
	default:
		d.state = StateSelecting
		d.startExchange(dhcp6.MessageTypeSolicit, now)
	}
	return nil
}

// Release drops the bound lease, notifying the server. The lease is
// released locally without waiting for the server's Reply.
func (d *Device) Release(leaseUUID *uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lease == nil || d.lease.InfoOnly {
		return fmt.Errorf("%s: %w", d.link.Name, ErrNoLease)
	}
	if leaseUUID != nil && *leaseUUID != d.lease.UUID {
		return fmt.Errorf("%s: lease uuid mismatch", d.link.Name)
	}

	lease := d.lease
	now := d.now()
	d.state = StateReleasing
	d.startExchange(dhcp6.MessageTypeRelease, now)
	d.lease = nil
	d.emitEvent(EventLeaseReleased, lease, nil)
	return nil
}

// Decline reports an address conflict to the server and drops the lease.
func (d *Device) Decline() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lease == nil || d.lease.InfoOnly {
		return fmt.Errorf("%s: %w", d.link.Name, ErrNoLease)
	}
	lease := d.lease
	now := d.now()
	d.state = StateDeclining
	d.startExchange(dhcp6.MessageTypeDecline, now)
	d.lease = nil
	d.emitEvent(EventLeaseLost, lease, nil)
	return nil
}

// Stop cancels any exchange, closes the socket and drops the pending
// request and config. The lease, if any, is kept for a later Confirm.
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Device) stopLocked() {
	d.disarmAll()
	d.closeSocket()
	d.state = StateInit
	d.request = nil
	d.config = nil
	d.bestOffer = nil
	d.offerLease = nil
	d.exchLease = nil
	d.xid = 0
}

// Close stops the device permanently.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.closed = true
}

// LinkEvent handles carrier changes. Link down pauses timers but keeps the
// lease; link up restarts the stored request.
func (d *Device) LinkEvent(up bool) {
	d.mu.Lock()
	req := d.request
	if !up {
		d.log.V(1).Info("link down")
		// Keep the lease; a later link up confirms it.
		d.disarmAll()
		d.closeSocket()
		d.state = StateInit
		d.mu.Unlock()
		return
	}
	d.log.V(1).Info("link up")
	d.mu.Unlock()
	if req != nil {
		if err := d.Acquire(req); err != nil {
			d.log.Error(err, "restart after link up failed")
		}
	}
}

// startExchange enters a new exchange, retrying on transient setup
// failures instead of abandoning.
func (d *Device) startExchange(mt dhcp6.MessageType, now time.Time) {
	if err := d.beginExchange(mt, now); err != nil {
		d.log.Error(err, "exchange setup failed, retrying", "type", mt.String())
		d.retryType = mt
		d.retryAt = now.Add(transientRetryDelay)
		d.rearmTimer()
	}
}

// beginExchange assigns a fresh transaction id, selects the destination,
// builds the message and arms either the initial delay or the
// retransmission schedule.
func (d *Device) beginExchange(mt dhcp6.MessageType, now time.Time) error {
	if d.conn == nil {
		conn, err := d.dial(d.link, d.llAddr)
		if err != nil {
			return fmt.Errorf("opening socket: %w", err)
		}
		d.conn = conn
		go d.readLoop(conn)
	}

	params, ok := timingFor(mt)
	if !ok {
		return fmt.Errorf("no timing parameters for %s", mt)
	}
	// Renew is bounded by T2, Rebind by the valid lifetime.
	switch mt {
	case dhcp6.MessageTypeRenew:
		params.MRD = d.lease.Acquired.Add(d.lease.T2()).Sub(now)
	case dhcp6.MessageTypeRebind:
		params.MRD = d.lease.Acquired.Add(d.lease.ValidLifetime()).Sub(now)
	}

	switch mt {
	case dhcp6.MessageTypeRequest:
		d.exchLease = d.offerLease
	case dhcp6.MessageTypeRenew, dhcp6.MessageTypeRebind, dhcp6.MessageTypeConfirm,
		dhcp6.MessageTypeRelease, dhcp6.MessageTypeDecline:
		d.exchLease = d.lease
	default:
		d.exchLease = nil
	}

	d.xid = dhcp6.NewTransactionID(d.rng)
	d.msgType = mt
	d.retrans = retransmitter{params: params}
	d.exchangeStart = time.Time{}
	d.delayAt = time.Time{}
	d.retryAt = time.Time{}
	if d.state != StateBound {
		d.stateDeadline = time.Time{}
	}

	d.unicast = unicastPermitted(mt, d.exchLease)
	if d.unicast {
		d.serverAddr = netip.AddrPortFrom(d.exchLease.ServerUnicast, dhcp6.ServerPort)
	} else {
		d.serverAddr = multicastDest()
	}

	if err := d.rebuildMessage(now); err != nil {
		return err
	}

	d.log.V(1).Info("starting exchange", "type", mt.String(), "xid", d.xid.String(),
		"dest", d.serverAddr.String())

	if delay := d.retrans.initialDelay(d.rng); delay > 0 {
		d.delayAt = now.Add(delay)
		d.rearmTimer()
		return nil
	}
	d.firstTransmit(now)
	return nil
}

// firstTransmit performs the initial send of an exchange and arms the
// retransmission schedule.
func (d *Device) firstTransmit(now time.Time) {
	d.exchangeStart = now
	if err := d.rebuildMessage(now); err != nil {
		d.log.Error(err, "building message")
		return
	}
	d.transmit()
	d.retrans.arm(d.rng, now)
	d.rearmTimer()
}

// unicastPermitted reports whether the message may go to the server's
// unicast address instead of the multicast group.
func unicastPermitted(mt dhcp6.MessageType, lease *Lease) bool {
	switch mt {
	case dhcp6.MessageTypeRequest, dhcp6.MessageTypeRenew,
		dhcp6.MessageTypeRelease, dhcp6.MessageTypeDecline:
	default:
		return false
	}
	return lease != nil && lease.UnicastUsable()
}

func multicastDest() netip.AddrPort {
	return netip.AddrPortFrom(dhcp6.AllDHCPRelayAgentsAndServers, dhcp6.ServerPort)
}

// needsServerID reports whether the message type addresses one particular
// server.
func needsServerID(mt dhcp6.MessageType) bool {
	switch mt {
	case dhcp6.MessageTypeRequest, dhcp6.MessageTypeRenew,
		dhcp6.MessageTypeRelease, dhcp6.MessageTypeDecline:
		return true
	}
	return false
}

// statefulMessage reports whether the message carries an IA-NA.
func statefulMessage(mt dhcp6.MessageType) bool {
	switch mt {
	case dhcp6.MessageTypeSolicit, dhcp6.MessageTypeRequest, dhcp6.MessageTypeConfirm,
		dhcp6.MessageTypeRenew, dhcp6.MessageTypeRebind,
		dhcp6.MessageTypeRelease, dhcp6.MessageTypeDecline:
		return true
	}
	return false
}

// buildORO maps the update mask onto the option codes requested from the
// server.
func buildORO(update UpdateFlags) []dhcp6.OptionCode {
	var codes []dhcp6.OptionCode
	if update&UpdateResolver != 0 {
		codes = append(codes, dhcp6.OptionCodeDNSServers, dhcp6.OptionCodeDomainList)
	}
	return codes
}

// rebuildMessage serializes the outbound message for the current exchange,
// refreshing the elapsed-time option. Option order follows RFC 3315's
// client message layout.
func (d *Device) rebuildMessage(now time.Time) error {
	cfg := d.config
	if cfg == nil {
		return fmt.Errorf("no exchange config")
	}
	msg := &dhcp6.Message{Type: d.msgType, TransactionID: d.xid}

	msg.Options.Add(&dhcp6.ClientID{DUID: cfg.DUID})
	if needsServerID(d.msgType) && d.exchLease != nil && d.exchLease.ServerDUID != nil {
		msg.Options.Add(&dhcp6.ServerID{DUID: d.exchLease.ServerDUID})
	}
	msg.Options.Add(dhcp6.ElapsedTimeSince(d.exchangeStart, now))

	if statefulMessage(d.msgType) && !cfg.InfoOnly {
		ia := &dhcp6.IANA{IAID: cfg.IAID}
		if d.exchLease != nil {
			for _, rec := range d.exchLease.IAs {
				for _, a := range rec.Addresses {
					ia.Options.Add(&dhcp6.IAAddr{
						Addr:      a.Addr,
						Preferred: uint32(a.Preferred / time.Second),
						Valid:     uint32(a.Valid / time.Second),
					})
				}
			}
		}
		msg.Options.Add(ia)
	}

	if codes := buildORO(cfg.Update); len(codes) > 0 {
		msg.Options.Add(&dhcp6.ORO{Codes: codes})
	}
	if d.msgType == dhcp6.MessageTypeSolicit && cfg.RapidCommit {
		msg.Options.Add(&dhcp6.RapidCommit{})
	}
	if len(cfg.UserClass) > 0 {
		uc := &dhcp6.UserClass{}
		for _, s := range cfg.UserClass {
			uc.Data = append(uc.Data, []byte(s))
		}
		msg.Options.Add(uc)
	}
	if len(cfg.VendorClassData) > 0 {
		vc := &dhcp6.VendorClass{EnterpriseNumber: cfg.VendorClassEN}
		for _, s := range cfg.VendorClassData {
			vc.Data = append(vc.Data, []byte(s))
		}
		msg.Options.Add(vc)
	}
	if len(cfg.VendorOpts) > 0 {
		vo := &dhcp6.VendorOpts{EnterpriseNumber: cfg.VendorOptsEN}
		nums := make([]int, 0, len(cfg.VendorOpts))
		for num := range cfg.VendorOpts {
			nums = append(nums, int(num))
		}
		sort.Ints(nums)
		for _, num := range nums {
			vo.Options = append(vo.Options, &dhcp6.RawOption{
				OptionCode: dhcp6.OptionCode(num),
				Data:       cfg.VendorOpts[uint16(num)],
			})
		}
		msg.Options.Add(vo)
	}
	if cfg.ReconfigureAccept {
		msg.Options.Add(&dhcp6.ReconfigureAccept{})
	}

	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	d.msg = b
	return nil
}

// transmit sends the pending message. Socket failures are transient: the
// socket is reopened and the send retried once; the retransmission
// schedule covers anything beyond that.
func (d *Device) transmit() {
	if d.conn == nil || len(d.msg) == 0 {
		return
	}
	err := d.conn.WriteTo(d.msg, d.serverAddr)
	if err == nil {
		return
	}
	d.log.Error(err, "send failed, reopening socket", "dest", d.serverAddr.String())
	d.closeSocket()
	conn, derr := d.dial(d.link, d.llAddr)
	if derr != nil {
		d.log.Error(derr, "socket reopen failed")
		return
	}
	d.conn = conn
	go d.readLoop(conn)
	if err := d.conn.WriteTo(d.msg, d.serverAddr); err != nil {
		d.log.Error(err, "resend failed")
	}
}

func (d *Device) closeSocket() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
}

// readLoop pumps datagrams from one socket generation into the FSM.
func (d *Device) readLoop(conn transportConn) {
	buf := make([]byte, 1500)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		d.handleDatagram(pkt, from)
	}
}

// Timer plumbing. Exactly one timer is armed per device: the earliest of
// the retransmit deadline, the initial-delay deadline, the state deadline
// and the transient-retry deadline.

func (d *Device) armTimerAt(at time.Time) {
	d.timerGen++
	gen := d.timerGen
	if d.timer != nil {
		d.timer.Stop()
	}
	delay := at.Sub(d.now())
	if delay < 0 {
		delay = 0
	}
	d.timer = d.afterFunc(delay, func() { d.onTimer(gen) })
}

func (d *Device) disarmTimer() {
	d.timerGen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Device) disarmAll() {
	d.retrans.disarm()
	d.delayAt = time.Time{}
	d.stateDeadline = time.Time{}
	d.retryAt = time.Time{}
	d.disarmTimer()
}

// nextDeadline returns the earliest pending deadline.
func (d *Device) nextDeadline() time.Time {
	var next time.Time
	consider := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}
	if d.retrans.armed() {
		consider(d.retrans.deadline)
	}
	consider(d.delayAt)
	consider(d.stateDeadline)
	consider(d.retryAt)
	return next
}

func (d *Device) rearmTimer() {
	next := d.nextDeadline()
	if next.IsZero() {
		d.disarmTimer()
		return
	}
	d.armTimerAt(next)
}

func (d *Device) onTimer(gen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.timerGen || d.closed {
		return
	}
	d.handleTimerLocked(d.now())
}

// handleTimerLocked dispatches a timer fire to whichever deadline is due.
func (d *Device) handleTimerLocked(now time.Time) {
	if !d.retryAt.IsZero() && !now.Before(d.retryAt) {
		d.retryAt = time.Time{}
		d.startExchange(d.retryType, now)
		return
	}

	if !d.delayAt.IsZero() && !now.Before(d.delayAt) {
		d.delayAt = time.Time{}
		d.firstTransmit(now)
		return
	}

	if d.retrans.armed() && !now.Before(d.retrans.deadline) {
		// Selection closes at the first retransmit deadline once an
		// Advertise is in hand.
		if d.state == StateSelecting && d.bestOffer != nil {
			d.commitOffer(now)
			return
		}
		if d.retrans.advance(d.rng, now) {
			if err := d.rebuildMessage(now); err != nil {
				d.log.Error(err, "rebuilding message")
			} else {
				d.transmit()
			}
			d.rearmTimer()
		} else {
			d.exchangeExpired(now)
		}
		return
	}

	if !d.stateDeadline.IsZero() && !now.Before(d.stateDeadline) {
		d.stateDeadline = time.Time{}
		if d.state == StateBound && d.lease != nil {
			t2At := d.lease.Acquired.Add(d.lease.T2())
			if !now.Before(t2At) {
				d.state = StateRebinding
				d.startExchange(dhcp6.MessageTypeRebind, now)
			} else {
				d.state = StateRenewing
				d.startExchange(dhcp6.MessageTypeRenew, now)
			}
		}
		return
	}

	d.rearmTimer()
}

// commitOffer ends server selection, moving to Request against the best
// Advertise.
func (d *Device) commitOffer(now time.Time) {
	off := d.bestOffer
	d.bestOffer = nil
	d.offerLease = newLeaseFromReply(off.msg, off.from, now, d.config.UUID, d.config.MaxLeaseTime)
	d.log.Info("selected server", "server", off.from.String(), "preference", off.pref)
	d.state = StateRequesting
	d.startExchange(dhcp6.MessageTypeRequest, now)
}

// exchangeExpired applies the per-state recovery once MRC or MRD is
// reached.
func (d *Device) exchangeExpired(now time.Time) {
	d.log.Info("exchange expired", "type", d.msgType.String(), "state", d.state.String())
	d.retrans.disarm()

	switch d.state {
	case StateRequesting, StateConfirming:
		d.state = StateSelecting
		d.startExchange(dhcp6.MessageTypeSolicit, now)
	case StateRenewing:
		if d.lease == nil || !now.Before(d.lease.Acquired.Add(d.lease.ValidLifetime())) {
			d.dropLease(now)
			return
		}
		d.state = StateRebinding
		d.startExchange(dhcp6.MessageTypeRebind, now)
	case StateRebinding:
		d.dropLease(now)
	case StateReleasing, StateDeclining:
		d.finishAndIdle()
	default:
		// Solicit and Information-Request have no MRC/MRD; restart the
		// schedule if we somehow land here.
		d.startExchange(d.msgType, now)
	}
}

// dropLease abandons the lease, tells the embedder and returns to INIT.
func (d *Device) dropLease(now time.Time) {
	lease := d.lease
	d.lease = nil
	d.finishAndIdle()
	if lease != nil {
		d.emitEvent(EventLeaseLost, lease, nil)
	}
}

// finishAndIdle ends the current exchange and parks the FSM in INIT with
// the socket closed.
func (d *Device) finishAndIdle() {
	d.disarmAll()
	d.closeSocket()
	d.exchLease = nil
	d.xid = 0
	d.state = StateInit
}

// handleDatagram feeds one received datagram through the parser and the
// per-state dispatch. Malformed or stray input is dropped silently.
func (d *Device) handleDatagram(b []byte, from netip.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	now := d.now()

	msg, err := dhcp6.ParseMessage(b)
	if err != nil {
		d.dropped++
		d.log.V(2).Info("dropping malformed datagram", "error", err.Error(), "from", from.String())
		return
	}
	if d.xid == 0 || msg.TransactionID != d.xid || !d.retrans.armed() {
		d.dropped++
		return
	}

	switch d.state {
	case StateSelecting:
		switch msg.Type {
		case dhcp6.MessageTypeAdvertise:
			d.handleAdvertise(msg, from, now)
		case dhcp6.MessageTypeReply:
			if d.config.RapidCommit && msg.Options.RapidCommitted() {
				d.handleReply(msg, from, now)
			} else {
				d.dropped++
			}
		default:
			d.dropped++
		}
	case StateRequesting, StateConfirming, StateRenewing, StateRebinding,
		StateInfoRequesting, StateReleasing, StateDeclining:
		if msg.Type == dhcp6.MessageTypeReply {
			d.handleReply(msg, from, now)
		} else {
			d.dropped++
		}
	default:
		d.dropped++
	}
}

// handleAdvertise folds a server offer into the selection.
func (d *Device) handleAdvertise(msg *dhcp6.Message, from netip.Addr, now time.Time) {
	serverDUID := msg.Options.ServerID()
	if serverDUID == nil {
		d.dropped++
		return
	}
	if st := msg.Options.Status(); st != nil && st.StatusCode != iana.StatusSuccess {
		return
	}
	for _, ia := range msg.Options.IANAs() {
		if st := ia.Status(); st != nil && st.StatusCode == iana.StatusNoAddrsAvail {
			return
		}
	}
	if d.view.IgnoreServer(from) {
		d.log.V(1).Info("ignoring advertise from blocked server", "server", from.String())
		return
	}

	prefValue, _ := msg.Options.Preference()
	pref := int(prefValue)
	if weight, ok := d.view.ServerPreference(from, serverDUID); ok {
		if weight < 0 {
			d.log.V(1).Info("rejecting advertise by configured weight", "server", from.String())
			return
		}
		pref = weight
	}

	if d.bestOffer == nil || pref > d.bestOffer.pref {
		d.bestOffer = &offer{pref: pref, msg: msg, from: from}
	}

	// Preference 255 ends selection immediately.
	if pref >= 255 {
		d.commitOffer(now)
	}
}

// handleReply processes the server's Reply for the outstanding exchange.
func (d *Device) handleReply(msg *dhcp6.Message, from netip.Addr, now time.Time) {
	st := msg.Options.Status()

	// A unicast exchange the server refuses reverts to multicast and
	// retransmits.
	if st != nil && st.StatusCode == iana.StatusUseMulticast {
		if !d.unicast {
			d.dropped++
			return
		}
		d.log.V(1).Info("server demands multicast, reverting")
		d.unicast = false
		d.serverAddr = multicastDest()
		if err := d.rebuildMessage(now); err == nil {
			d.transmit()
		}
		return
	}
	fatal := st != nil && st.StatusCode != iana.StatusSuccess

	switch d.state {
	case StateSelecting, StateRequesting:
		if fatal {
			d.log.Info("server refused request", "status", st.Message)
			d.state = StateSelecting
			d.bestOffer = nil
			d.startExchange(dhcp6.MessageTypeSolicit, now)
			return
		}
		d.installLease(msg, from, now)
	case StateRenewing, StateRebinding:
		if fatal {
			d.log.Info("server refused lease extension", "status", st.Message)
			d.exchangeExpired(now)
			return
		}
		d.installLease(msg, from, now)
	case StateConfirming:
		if fatal {
			// NotOnLink or worse: the lease does not hold here.
			d.lease = nil
			d.state = StateSelecting
			d.startExchange(dhcp6.MessageTypeSolicit, now)
			return
		}
		d.enterBound(now, d.lease, false)
	case StateInfoRequesting:
		if fatal {
			return
		}
		lease := newLeaseFromReply(msg, from, now, d.config.UUID, d.config.MaxLeaseTime)
		lease.InfoOnly = true
		d.lease = lease
		d.retrans.disarm()
		d.disarmTimer()
		d.state = StateBound
		d.xid = 0
		d.emitEvent(EventLeaseAcquired, lease, nil)
	case StateReleasing, StateDeclining:
		d.log.V(1).Info("server acknowledged", "state", d.state.String())
		d.finishAndIdle()
	}
}

// installLease commits a granting Reply and moves to BOUND.
func (d *Device) installLease(msg *dhcp6.Message, from netip.Addr, now time.Time) {
	lease := newLeaseFromReply(msg, from, now, d.config.UUID, d.config.MaxLeaseTime)
	if !lease.HasAddresses() {
		d.log.Info("reply granted no addresses, restarting discovery")
		d.state = StateSelecting
		d.bestOffer = nil
		d.startExchange(dhcp6.MessageTypeSolicit, now)
		return
	}
	d.lease = lease
	d.offerLease = nil
	d.enterBound(now, lease, true)
}

// enterBound parks the device in BOUND with the renewal timer at T1.
func (d *Device) enterBound(now time.Time, lease *Lease, announce bool) {
	d.retrans.disarm()
	d.delayAt = time.Time{}
	d.retryAt = time.Time{}
	d.exchLease = nil
	d.xid = 0
	d.state = StateBound

	if t1 := lease.T1(); t1 > 0 && lease.HasAddresses() {
		d.stateDeadline = lease.Acquired.Add(t1)
	} else {
		d.stateDeadline = time.Time{}
	}
	d.rearmTimer()

	d.log.Info("lease bound", "t1", lease.T1().String(), "t2", lease.T2().String(),
		"valid", lease.ValidLifetime().String())
	if announce {
		d.emitEvent(EventLeaseAcquired, lease, nil)
	}
}

func (d *Device) emitEvent(t EventType, lease *Lease, err error) {
	if d.emit == nil {
		return
	}
	d.emit(Event{
		Type:    t,
		Ifindex: d.link.Index,
		Ifname:  d.link.Name,
		Lease:   lease,
		Error:   err,
	})
}
