package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ringlink/ringlink-server/internal/bus"
	"github.com/ringlink/ringlink-server/internal/registry"
)

// Stats receives coordinator counters. Nil-safe via noopStats.
type Stats interface {
	CallStarted(callType CallType)
	CallFinished(status CallStatus)
	SignalRelayed(sigType SignalType)
}

type noopStats struct{}

func (noopStats) CallStarted(CallType)     {}
func (noopStats) CallFinished(CallStatus)  {}
func (noopStats) SignalRelayed(SignalType) {}

// session is the coordinator's mutable state for one call.
type session struct {
	CallSession
	// ringSet holds the receiver connection IDs the offer was fanned
	// out to; used to cancel sibling devices once one answers.
	ringSet      map[string]struct{}
	participants map[string]*Participant
}

// outbound is a signal scheduled for delivery after the coordinator
// lock is released.
type outbound struct {
	connectionID string
	userID       string
	sig          Signal
}

// Terminal sessions stay queryable for a while so late signaling
// attempts fail with invalid_state instead of call_not_found; the
// oldest are evicted once this many have accumulated.
const maxTerminalRetained = 256

// Coordinator mediates offer/answer/ICE exchange between participants
// and enforces the call lifecycle state machine. It resolves target
// connections through the registry, delivers signals through a Sender,
// and publishes lifecycle events onto the bus.
//
// No lock is held while a signal is handed to the transport.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session
	ended    []string

	registry *registry.Registry
	sender   Sender
	bus      *bus.Bus
	history  History
	stats    Stats
	log      *zerolog.Logger
}

// Options carries optional collaborators for the coordinator.
type Options struct {
	Bus     *bus.Bus
	History History
	Stats   Stats
}

// NewCoordinator builds a coordinator. bus, history and stats in opts
// may be nil.
func NewCoordinator(reg *registry.Registry, sender Sender, logger *zerolog.Logger, opts Options) *Coordinator {
	stats := opts.Stats
	if stats == nil {
		stats = noopStats{}
	}
	return &Coordinator{
		sessions: make(map[string]*session),
		registry: reg,
		sender:   sender,
		bus:      opts.Bus,
		history:  opts.History,
		stats:    stats,
		log:      logger,
	}
}

// InitiateCall starts a direct call. The offer fans out to every live
// connection of the receiver; the first connection to answer wins and
// sibling devices are cancelled. Fails with user_unavailable when the
// receiver has no live connection or is already in a call.
func (c *Coordinator) InitiateCall(ctx context.Context, callerID, receiverID, sdpOffer string) (CallSession, error) {
	if callerID == receiverID {
		return CallSession{}, newError(ErrCodeUserUnavailable, "cannot call yourself")
	}

	targets := c.registry.GetByUserID(receiverID)
	if len(targets) == 0 {
		return CallSession{}, newError(ErrCodeUserUnavailable, fmt.Sprintf("user %s is not connected", receiverID))
	}
	// Availability check and busy mark are one atomic step, so two
	// callers racing the same receiver cannot both win.
	if !c.registry.TryMarkInCall(receiverID, callerID) {
		return CallSession{}, newError(ErrCodeUserUnavailable, fmt.Sprintf("user %s is busy", receiverID))
	}

	callerName := c.displayName(callerID)
	now := time.Now()
	sess := &session{
		CallSession: CallSession{
			CallID:      uuid.New().String(),
			CallerID:    callerID,
			ReceiverID:  receiverID,
			Type:        CallTypeDirect,
			Status:      CallStatusInitiating,
			InitiatedAt: now,
		},
		ringSet:      make(map[string]struct{}, len(targets)),
		participants: make(map[string]*Participant),
	}

	offer := Signal{
		Type:       SignalOffer,
		CallID:     sess.CallID,
		CallType:   CallTypeDirect,
		FromUserID: callerID,
		FromName:   callerName,
		SDP:        sdpOffer,
	}

	c.mu.Lock()
	c.sessions[sess.CallID] = sess
	for _, t := range targets {
		sess.ringSet[t.ConnectionID] = struct{}{}
	}
	c.mu.Unlock()
	c.stats.CallStarted(CallTypeDirect)

	c.registry.UpdateCallStatus(callerID, true, receiverID)

	delivered := 0
	for _, t := range targets {
		if err := c.send(t.ConnectionID, offer); err != nil {
			c.dropFromRingSet(sess.CallID, t.ConnectionID)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		// Every device vanished between the lookup and the relay.
		c.terminate(ctx, sess.CallID, "", CallStatusFailed, "receiver unreachable")
		return CallSession{}, newError(ErrCodeUserUnavailable, fmt.Sprintf("user %s is unreachable", receiverID))
	}

	c.mu.Lock()
	sess.Status = CallStatusRinging
	snapshot := sess.CallSession
	c.mu.Unlock()

	c.publish(ctx, bus.CallInitiated{CallID: sess.CallID, CallerID: callerID, ReceiverID: receiverID})
	if c.log != nil {
		c.log.Info().
			Str("call_id", sess.CallID).
			Str("caller_id", callerID).
			Str("receiver_id", receiverID).
			Int("devices", delivered).
			Msg("call initiated")
	}
	return snapshot, nil
}

// InitiateGroupCall starts a group call. Group membership is resolved
// by the caller's persistence layer and passed in as memberIDs. Members
// without a live connection are skipped; the call proceeds while at
// least one member can be reached.
func (c *Coordinator) InitiateGroupCall(ctx context.Context, callerID, groupID string, memberIDs []string, sdpOffer string) (CallSession, error) {
	callerName := c.displayName(callerID)
	now := time.Now()
	sess := &session{
		CallSession: CallSession{
			CallID:      uuid.New().String(),
			CallerID:    callerID,
			GroupID:     groupID,
			Type:        CallTypeGroup,
			Status:      CallStatusInitiating,
			InitiatedAt: now,
		},
		ringSet:      make(map[string]struct{}),
		participants: make(map[string]*Participant),
	}

	// The caller joins their own call immediately.
	callerConnID, _ := c.registry.GetConnectionID(callerID)
	sess.participants[callerID] = &Participant{
		CallID:       sess.CallID,
		UserID:       callerID,
		ConnectionID: callerConnID,
		JoinedAt:     now,
		AudioEnabled: true,
		VideoEnabled: true,
	}

	offer := Signal{
		Type:       SignalOffer,
		CallID:     sess.CallID,
		CallType:   CallTypeGroup,
		FromUserID: callerID,
		FromName:   callerName,
		GroupID:    groupID,
		SDP:        sdpOffer,
	}

	var targets []registry.UserConnection
	for _, memberID := range memberIDs {
		if memberID == callerID {
			continue
		}
		targets = append(targets, c.registry.GetByUserID(memberID)...)
	}
	if len(targets) == 0 {
		return CallSession{}, newError(ErrCodeUserUnavailable, "no group member is connected")
	}
	if !c.registry.TryMarkInCall(callerID, groupID) {
		return CallSession{}, newError(ErrCodeUserUnavailable, "already in a call")
	}

	c.mu.Lock()
	c.sessions[sess.CallID] = sess
	for _, t := range targets {
		sess.ringSet[t.ConnectionID] = struct{}{}
	}
	c.mu.Unlock()
	c.stats.CallStarted(CallTypeGroup)

	delivered := 0
	for _, t := range targets {
		if err := c.send(t.ConnectionID, offer); err != nil {
			c.dropFromRingSet(sess.CallID, t.ConnectionID)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		c.terminate(ctx, sess.CallID, "", CallStatusFailed, "no member reachable")
		return CallSession{}, newError(ErrCodeUserUnavailable, "no group member is reachable")
	}

	c.mu.Lock()
	sess.Status = CallStatusRinging
	snapshot := sess.CallSession
	c.mu.Unlock()

	c.publish(ctx, bus.CallInitiated{CallID: sess.CallID, CallerID: callerID, GroupID: groupID})
	return snapshot, nil
}

// AnswerCall completes the handshake. Valid only while the session is
// Initiating or Ringing; the first answer wins the transition and every
// sibling device in the ring set is told to cancel before the answer is
// relayed back to the caller.
func (c *Coordinator) AnswerCall(ctx context.Context, callID, fromUserID, fromConnectionID, sdpAnswer string) error {
	now := time.Now()

	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok {
		c.mu.Unlock()
		return newError(ErrCodeCallNotFound, "call not found")
	}
	if sess.Status != CallStatusInitiating && sess.Status != CallStatusRinging {
		status := sess.Status
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, fmt.Sprintf("cannot answer call in state %s", status))
	}
	if fromUserID == sess.CallerID {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "caller cannot answer their own call")
	}
	if sess.Type == CallTypeDirect && fromUserID != sess.ReceiverID {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "answer from a user outside the call")
	}
	if sess.Type == CallTypeGroup {
		if _, rung := sess.ringSet[fromConnectionID]; !rung {
			c.mu.Unlock()
			return newError(ErrCodeInvalidState, "answer from a connection that was not rung")
		}
	}

	sess.Status = CallStatusConnected
	sess.ConnectedAt = &now

	// First answer wins: cancel every sibling device that was rung.
	cancel := Signal{Type: SignalCallCancelled, CallID: callID, CallType: sess.Type, FromUserID: fromUserID, Reason: "answered elsewhere"}
	var out []outbound
	for connID := range sess.ringSet {
		if connID == fromConnectionID {
			continue
		}
		if sess.Type == CallTypeGroup {
			// In a group call sibling connections of *this* user are
			// cancelled; other members keep ringing and may still join.
			conn, found := c.registry.GetByConnectionID(connID)
			if !found || conn.UserID != fromUserID {
				continue
			}
		}
		out = append(out, outbound{connectionID: connID, sig: cancel})
		delete(sess.ringSet, connID)
	}
	delete(sess.ringSet, fromConnectionID)

	if sess.participants[sess.CallerID] == nil {
		callerConnID, _ := c.registry.GetConnectionID(sess.CallerID)
		sess.participants[sess.CallerID] = &Participant{
			CallID:       callID,
			UserID:       sess.CallerID,
			ConnectionID: callerConnID,
			JoinedAt:     now,
			AudioEnabled: true,
			VideoEnabled: true,
		}
	}
	sess.participants[fromUserID] = &Participant{
		CallID:       callID,
		UserID:       fromUserID,
		ConnectionID: fromConnectionID,
		JoinedAt:     now,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	callerID := sess.CallerID
	callType := sess.Type
	groupID := sess.GroupID
	c.mu.Unlock()

	if callType == CallTypeGroup {
		c.registry.UpdateCallStatus(fromUserID, true, groupID)
	}

	for _, o := range out {
		_ = c.send(o.connectionID, o.sig)
	}

	answer := Signal{
		Type:       SignalAnswer,
		CallID:     callID,
		CallType:   callType,
		FromUserID: fromUserID,
		FromName:   c.displayName(fromUserID),
		SDP:        sdpAnswer,
	}
	deliveredToCaller := false
	for _, connID := range c.registry.ConnectionIDs(callerID) {
		if err := c.send(connID, answer); err == nil {
			deliveredToCaller = true
		}
	}
	if !deliveredToCaller {
		// The caller vanished mid-handshake.
		c.terminate(ctx, callID, fromUserID, CallStatusFailed, "caller unreachable")
		return newError(ErrCodeUserUnavailable, "caller is unreachable")
	}

	c.publish(ctx, bus.CallConnected{CallID: callID, CallerID: callerID})
	if c.log != nil {
		c.log.Info().Str("call_id", callID).Str("answered_by", fromUserID).Msg("call connected")
	}
	return nil
}

// RelayIceCandidate forwards a candidate to the other participant(s).
// Legal while the session is Initiating, Ringing or Connected.
func (c *Coordinator) RelayIceCandidate(ctx context.Context, callID, fromUserID string, candidate IceCandidate) error {
	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok {
		c.mu.Unlock()
		return newError(ErrCodeCallNotFound, "call not found")
	}
	if sess.Status.Terminal() {
		status := sess.Status
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, fmt.Sprintf("cannot relay candidate in state %s", status))
	}
	if !c.isParticipantLocked(sess, fromUserID) {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "not a participant in this call")
	}
	targets := c.relayTargetsLocked(sess, fromUserID)
	callType := sess.Type
	c.mu.Unlock()

	if len(targets) == 0 {
		return newError(ErrCodeConnectionNotFound, "no connection to relay to")
	}

	cand := candidate
	sig := Signal{
		Type:       SignalIceCandidate,
		CallID:     callID,
		CallType:   callType,
		FromUserID: fromUserID,
		Candidate:  &cand,
	}
	delivered := 0
	for _, connID := range targets {
		if err := c.send(connID, sig); err == nil {
			delivered++
		}
	}
	if delivered == 0 {
		// Everything we resolved is gone; the disconnect path will
		// clean the session up, the relay itself just misses.
		return newError(ErrCodeConnectionNotFound, "peer connections are gone")
	}
	return nil
}

// isParticipantLocked reports whether userID is currently part of the
// call: either end of a direct call, a group participant who has not
// left, or an invited user with a device still in the ring set. Knowing
// a call ID grants no rights by itself.
func (c *Coordinator) isParticipantLocked(sess *session, userID string) bool {
	if sess.Type == CallTypeDirect {
		return userID == sess.CallerID || userID == sess.ReceiverID
	}
	if p := sess.participants[userID]; p != nil {
		return p.LeftAt == nil
	}
	for _, connID := range c.registry.ConnectionIDs(userID) {
		if _, rung := sess.ringSet[connID]; rung {
			return true
		}
	}
	return false
}

// relayTargetsLocked resolves the connections a signal from fromUserID
// should reach. Once a participant has answered, their pinned
// connection is used; before that, all of the peer's devices are.
func (c *Coordinator) relayTargetsLocked(sess *session, fromUserID string) []string {
	var targets []string
	seen := map[string]struct{}{}
	add := func(connID string) {
		if connID == "" {
			return
		}
		if _, dup := seen[connID]; dup {
			return
		}
		seen[connID] = struct{}{}
		targets = append(targets, connID)
	}

	if sess.Type == CallTypeDirect {
		peerID := sess.CallerID
		if fromUserID == sess.CallerID {
			peerID = sess.ReceiverID
		}
		if p := sess.participants[peerID]; p != nil && p.LeftAt == nil && p.ConnectionID != "" {
			add(p.ConnectionID)
			return targets
		}
		// Not pinned yet: fan to the ring set (receiver side) or every
		// device (caller side).
		if peerID == sess.ReceiverID && len(sess.ringSet) > 0 {
			for connID := range sess.ringSet {
				add(connID)
			}
			return targets
		}
		for _, connID := range c.registry.ConnectionIDs(peerID) {
			add(connID)
		}
		return targets
	}

	// Group call: every joined participant except the sender.
	for userID, p := range sess.participants {
		if userID == fromUserID || p.LeftAt != nil {
			continue
		}
		if p.ConnectionID != "" {
			add(p.ConnectionID)
			continue
		}
		for _, connID := range c.registry.ConnectionIDs(userID) {
			add(connID)
		}
	}
	return targets
}

// EndCall hangs up from any non-terminal state. Duration counts from
// ConnectedAt and is zero when the call never connected.
func (c *Coordinator) EndCall(ctx context.Context, callID, byUserID, reason string) error {
	if reason == "" {
		reason = "hangup"
	}
	return c.terminate(ctx, callID, byUserID, CallStatusEnded, reason)
}

// DeclineCall rejects a call that has not been answered yet.
func (c *Coordinator) DeclineCall(ctx context.Context, callID, byUserID, reason string) error {
	if reason == "" {
		reason = "declined"
	}
	return c.terminate(ctx, callID, byUserID, CallStatusDeclined, reason,
		CallStatusInitiating, CallStatusRinging)
}

// TimeoutCall transitions an unanswered call to Missed. The ring timer
// itself lives in the transport layer; the coordinator only exposes the
// transition. Timing out a call that already left Ringing is an
// invalid_state error the timer should ignore.
func (c *Coordinator) TimeoutCall(ctx context.Context, callID string) error {
	return c.terminate(ctx, callID, "", CallStatusMissed, "no answer",
		CallStatusInitiating, CallStatusRinging)
}

// LeaveCall marks one participant of a group call as left. The session
// survives while at least one participant remains joined; the last
// leave ends it. For direct calls leaving is a hangup.
func (c *Coordinator) LeaveCall(ctx context.Context, callID, userID string) error {
	now := time.Now()

	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok {
		c.mu.Unlock()
		return newError(ErrCodeCallNotFound, "call not found")
	}
	if sess.Status.Terminal() {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "call already over")
	}
	if sess.Type == CallTypeDirect {
		c.mu.Unlock()
		return c.EndCall(ctx, callID, userID, "hangup")
	}

	p := sess.participants[userID]
	if p == nil || p.LeftAt != nil {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "not a joined participant")
	}
	p.LeftAt = &now

	remaining := 0
	var out []outbound
	left := Signal{Type: SignalParticipantLeft, CallID: callID, CallType: CallTypeGroup, FromUserID: userID}
	for otherID, other := range sess.participants {
		if other.LeftAt != nil || otherID == userID {
			continue
		}
		remaining++
		out = append(out, outbound{connectionID: other.ConnectionID, userID: otherID, sig: left})
	}
	c.mu.Unlock()

	c.registry.UpdateCallStatus(userID, false, "")

	for _, o := range out {
		_ = c.send(o.connectionID, o.sig)
	}

	if remaining == 0 {
		// The leaver is already marked left, so the terminate runs
		// actorless; there is nobody left to notify either way.
		return c.terminate(ctx, callID, "", CallStatusEnded, "all participants left")
	}
	return nil
}

// JoinGroupCall admits a user into an ongoing group call without a new
// offer round, e.g. when they pick up a second invite link.
func (c *Coordinator) JoinGroupCall(ctx context.Context, callID, userID, connectionID string) error {
	now := time.Now()
	name := c.displayName(userID)

	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok {
		c.mu.Unlock()
		return newError(ErrCodeCallNotFound, "call not found")
	}
	if sess.Type != CallTypeGroup {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "not a group call")
	}
	if sess.Status.Terminal() {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "call already over")
	}
	if p := sess.participants[userID]; p != nil && p.LeftAt == nil {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "already joined")
	}
	// Admission requires an invitation: a device still in the ring set,
	// or a previous participant record for a rejoin.
	if sess.participants[userID] == nil {
		invited := false
		for _, connID := range c.registry.ConnectionIDs(userID) {
			if _, rung := sess.ringSet[connID]; rung {
				invited = true
				break
			}
		}
		if !invited {
			c.mu.Unlock()
			return newError(ErrCodeInvalidState, "not invited to this call")
		}
	}
	sess.participants[userID] = &Participant{
		CallID:       callID,
		UserID:       userID,
		ConnectionID: connectionID,
		JoinedAt:     now,
		AudioEnabled: true,
		VideoEnabled: true,
	}
	joined := Signal{Type: SignalParticipantJoined, CallID: callID, CallType: CallTypeGroup, FromUserID: userID, FromName: name}
	var out []outbound
	for otherID, other := range sess.participants {
		if otherID == userID || other.LeftAt != nil {
			continue
		}
		out = append(out, outbound{connectionID: other.ConnectionID, userID: otherID, sig: joined})
	}
	groupID := sess.GroupID
	c.mu.Unlock()

	c.registry.UpdateCallStatus(userID, true, groupID)

	for _, o := range out {
		_ = c.send(o.connectionID, o.sig)
	}
	return nil
}

// HandleConnectionGone reacts to a transport disconnect. If the user
// keeps other live connections nothing happens; when their last
// connection is gone, every session they are part of treats them as
// having left.
func (c *Coordinator) HandleConnectionGone(ctx context.Context, userID, connectionID string) {
	if c.registry.CountConnections(userID) > 0 {
		// Another device is still up; sessions pinned to the dead
		// connection will fail on the next relay and re-resolve then.
		return
	}

	c.mu.Lock()
	var affected []string
	for callID, sess := range c.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if sess.CallerID == userID || sess.ReceiverID == userID {
			affected = append(affected, callID)
			continue
		}
		if p := sess.participants[userID]; p != nil && p.LeftAt == nil {
			affected = append(affected, callID)
		}
	}
	c.mu.Unlock()

	for _, callID := range affected {
		c.mu.Lock()
		sess, ok := c.sessions[callID]
		isGroup := ok && sess.Type == CallTypeGroup
		c.mu.Unlock()
		if !ok {
			continue
		}
		if isGroup {
			_ = c.LeaveCall(ctx, callID, userID)
		} else {
			_ = c.terminate(ctx, callID, userID, CallStatusEnded, "peer_disconnected")
		}
	}
}

// GetSession returns a snapshot of the session if it is still live.
func (c *Coordinator) GetSession(callID string) (CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[callID]
	if !ok {
		return CallSession{}, false
	}
	return sess.CallSession, true
}

// Participants returns snapshots of the session's membership records.
func (c *Coordinator) Participants(callID string) []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[callID]
	if !ok {
		return nil
	}
	out := make([]Participant, 0, len(sess.participants))
	for _, p := range sess.participants {
		out = append(out, *p)
	}
	return out
}

// terminate moves a session to a terminal status, clears call flags,
// notifies the other participants, publishes the lifecycle event,
// flushes history and evicts the session. When allowedFrom is given,
// the transition is only legal from those states.
func (c *Coordinator) terminate(ctx context.Context, callID, byUserID string, status CallStatus, reason string, allowedFrom ...CallStatus) error {
	now := time.Now()

	c.mu.Lock()
	sess, ok := c.sessions[callID]
	if !ok {
		c.mu.Unlock()
		return newError(ErrCodeCallNotFound, "call not found")
	}
	if sess.Status.Terminal() {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "call already over")
	}
	if len(allowedFrom) > 0 {
		legal := false
		for _, s := range allowedFrom {
			if sess.Status == s {
				legal = true
				break
			}
		}
		if !legal {
			current := sess.Status
			c.mu.Unlock()
			return newError(ErrCodeInvalidState,
				fmt.Sprintf("cannot move call from %s to %s", current, status))
		}
	}
	if byUserID != "" && !c.isParticipantLocked(sess, byUserID) {
		c.mu.Unlock()
		return newError(ErrCodeInvalidState, "not a participant in this call")
	}

	sess.Status = status
	sess.EndedAt = &now
	sess.EndReason = reason
	if sess.ConnectedAt != nil {
		sess.DurationSeconds = int64(now.Sub(*sess.ConnectedAt) / time.Second)
	}
	// Participants who left before the call ended already had their
	// call status cleared; only the ones still joined are freed below.
	stillJoined := make([]string, 0, len(sess.participants))
	for _, p := range sess.participants {
		if p.LeftAt == nil {
			stillJoined = append(stillJoined, p.UserID)
			p.LeftAt = &now
		}
	}

	sigType := SignalCallEnded
	switch status {
	case CallStatusDeclined:
		sigType = SignalCallDeclined
	case CallStatusMissed:
		sigType = SignalCallMissed
	}
	sig := Signal{Type: sigType, CallID: callID, CallType: sess.Type, FromUserID: byUserID, Reason: reason}

	// Notify everyone except whoever triggered the termination. Group
	// members who already left are not told about an end they are no
	// longer part of.
	notify := map[string]struct{}{}
	if sess.Type == CallTypeDirect {
		notify[sess.CallerID] = struct{}{}
		notify[sess.ReceiverID] = struct{}{}
	} else {
		for _, userID := range stillJoined {
			notify[userID] = struct{}{}
		}
	}
	delete(notify, byUserID)

	snapshot := sess.CallSession
	participants := make([]Participant, 0, len(sess.participants))
	for _, p := range sess.participants {
		participants = append(participants, *p)
	}
	c.ended = append(c.ended, callID)
	if len(c.ended) > maxTerminalRetained {
		evict := c.ended[0]
		c.ended = c.ended[1:]
		delete(c.sessions, evict)
	}
	c.mu.Unlock()

	// Free both sides (or the members still joined) for new calls.
	// Clearing a user who left earlier would wipe the busy flag of
	// whatever call they have since moved on to.
	if snapshot.Type == CallTypeDirect {
		c.registry.UpdateCallStatus(snapshot.CallerID, false, "")
		c.registry.UpdateCallStatus(snapshot.ReceiverID, false, "")
	} else {
		for _, userID := range stillJoined {
			c.registry.UpdateCallStatus(userID, false, "")
		}
	}

	for userID := range notify {
		for _, connID := range c.registry.ConnectionIDs(userID) {
			_ = c.send(connID, sig)
		}
	}

	c.stats.CallFinished(status)
	c.publish(ctx, bus.CallEnded{
		CallID:          callID,
		Status:          string(status),
		Reason:          reason,
		DurationSeconds: snapshot.DurationSeconds,
	})
	if c.history != nil {
		if err := c.history.SaveCall(ctx, snapshot, participants); err != nil && c.log != nil {
			c.log.Warn().Err(err).Str("call_id", callID).Msg("call history write failed")
		}
	}
	if c.log != nil {
		c.log.Info().
			Str("call_id", callID).
			Str("status", string(status)).
			Str("reason", reason).
			Int64("duration_s", snapshot.DurationSeconds).
			Msg("call finished")
	}
	return nil
}

// send relays one signal outside any coordinator lock.
func (c *Coordinator) send(connectionID string, sig Signal) error {
	err := c.sender.Send(connectionID, sig)
	if err != nil && c.log != nil {
		c.log.Debug().
			Err(err).
			Str("conn_id", connectionID).
			Str("call_id", sig.CallID).
			Str("signal", string(sig.Type)).
			Msg("signal relay failed, connection gone")
	}
	if err == nil {
		c.stats.SignalRelayed(sig.Type)
	}
	return err
}

func (c *Coordinator) dropFromRingSet(callID, connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[callID]; ok {
		delete(sess.ringSet, connectionID)
	}
}

func (c *Coordinator) publish(ctx context.Context, payload bus.Payload) {
	if c.bus != nil {
		c.bus.Publish(ctx, payload)
	}
}

func (c *Coordinator) displayName(userID string) string {
	if conns := c.registry.GetByUserID(userID); len(conns) > 0 {
		return conns[0].DisplayName
	}
	return userID
}
