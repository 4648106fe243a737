// Package transport implements the zenoh-pico unicast and multicast
// transport layer (spec.md §4.5, §4.6): the handshake, per-peer sequence
// number bookkeeping, fragmentation, and keepalive/lease tracking that sit
// between a link (internal/link) and a session's dispatch loop
// (internal/session).
package transport

// State is a unicast transport handshake state (spec.md §4.5).
type State uint8

// Handshake states. Client side walks Init -> InitSent -> OpenSent ->
// Established -> Closing -> Closed; listener side walks
// Init -> InitAcked -> Established -> Closing -> Closed.
const (
	StateInit State = iota
	StateInitSent
	StateInitAcked
	StateOpenSent
	StateEstablished
	StateClosing
	StateClosed
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateInitSent:
		return "InitSent"
	case StateInitAcked:
		return "InitAcked"
	case StateOpenSent:
		return "OpenSent"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Event drives a handshake transition (spec.md §4.5).
type Event uint8

// Handshake events.
const (
	EventSendInit    Event = iota // local: client begins opening
	EventRecvInit                 // received INIT (not ack) -- listener side
	EventRecvInitAck              // received INIT with ack+cookie -- client side
	EventRecvOpen                 // received OPEN (not ack) -- listener side
	EventRecvOpenAck              // received OPEN with ack -- client side
	EventRecvClose                // received CLOSE from peer
	EventLocalClose               // local: application or keepalive requests close
	EventHandshakeError           // local: version/resolution/cookie mismatch
	EventLeaseExpired             // local: no traffic within the negotiated lease
	EventCloseComplete            // local: close handshake finished (sent or acked)
)

// String renders an Event for logging.
func (e Event) String() string {
	switch e {
	case EventSendInit:
		return "SendInit"
	case EventRecvInit:
		return "RecvInit"
	case EventRecvInitAck:
		return "RecvInitAck"
	case EventRecvOpen:
		return "RecvOpen"
	case EventRecvOpenAck:
		return "RecvOpenAck"
	case EventRecvClose:
		return "RecvClose"
	case EventLocalClose:
		return "LocalClose"
	case EventHandshakeError:
		return "HandshakeError"
	case EventLeaseExpired:
		return "LeaseExpired"
	case EventCloseComplete:
		return "CloseComplete"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must perform after ApplyEvent returns
// (spec.md §4.5); the FSM itself never touches a link or a timer.
type Action uint8

// Actions a transition may require.
const (
	ActionSendInit Action = iota
	ActionSendInitAck
	ActionSendOpen
	ActionSendOpenAck
	ActionSendClose
	ActionStartKeepalive
	ActionStopKeepalive
	ActionNotifyEstablished
	ActionNotifyClosed
)

// String renders an Action for logging.
func (a Action) String() string {
	switch a {
	case ActionSendInit:
		return "SendInit"
	case ActionSendInitAck:
		return "SendInitAck"
	case ActionSendOpen:
		return "SendOpen"
	case ActionSendOpenAck:
		return "SendOpenAck"
	case ActionSendClose:
		return "SendClose"
	case ActionStartKeepalive:
		return "StartKeepalive"
	case ActionStopKeepalive:
		return "StopKeepalive"
	case ActionNotifyEstablished:
		return "NotifyEstablished"
	case ActionNotifyClosed:
		return "NotifyClosed"
	default:
		return "Unknown"
	}
}

// stateEvent is the transition table's lookup key, mirroring
// internal/bfd/fsm.go's stateEvent.
type stateEvent struct {
	state State
	event Event
}

// transition is the table's value: the resulting state plus the actions
// the caller owes the world.
type transition struct {
	newState State
	actions  []Action
}

// fsmTable is the exhaustive (state, event) -> transition map. Any
// (state, event) pair absent from this table is a no-op: ApplyEvent
// returns the unchanged state with no actions, exactly as
// internal/bfd/fsm.go does for events that don't apply in a given state.
//
//nolint:gochecknoglobals // Lookup table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// Client: begin opening.
	{StateInit, EventSendInit}: {StateInitSent, []Action{ActionSendInit}},

	// Listener: peer's INIT proposal arrives.
	{StateInit, EventRecvInit}: {StateInitAcked, []Action{ActionSendInitAck}},

	// Client: peer's INIT ack (with cookie) arrives -- send OPEN.
	{StateInitSent, EventRecvInitAck}: {StateOpenSent, []Action{ActionSendOpen}},

	// Listener: peer's OPEN (echoing cookie) arrives -- ack and establish.
	{StateInitAcked, EventRecvOpen}: {
		StateEstablished,
		[]Action{ActionSendOpenAck, ActionStartKeepalive, ActionNotifyEstablished},
	},

	// Client: peer's OPEN ack arrives -- established.
	{StateOpenSent, EventRecvOpenAck}: {
		StateEstablished,
		[]Action{ActionStartKeepalive, ActionNotifyEstablished},
	},

	// Handshake errors (version mismatch, sn resolution mismatch, cookie
	// mismatch) abort the in-progress handshake with a CLOSE.
	{StateInitSent, EventHandshakeError}:  {StateClosed, []Action{ActionSendClose, ActionNotifyClosed}},
	{StateInitAcked, EventHandshakeError}: {StateClosed, []Action{ActionSendClose, ActionNotifyClosed}},
	{StateOpenSent, EventHandshakeError}:  {StateClosed, []Action{ActionSendClose, ActionNotifyClosed}},

	// Established: local or remote close, or lease expiry.
	{StateEstablished, EventLocalClose}:   {StateClosing, []Action{ActionSendClose, ActionStopKeepalive}},
	{StateEstablished, EventRecvClose}:    {StateClosed, []Action{ActionStopKeepalive, ActionNotifyClosed}},
	{StateEstablished, EventLeaseExpired}: {StateClosed, []Action{ActionStopKeepalive, ActionNotifyClosed}},

	// Closing: the peer's own CLOSE, or our close is considered complete
	// once sent (CLOSE carries no ack in zenoh's wire protocol).
	{StateClosing, EventRecvClose}:    {StateClosed, []Action{ActionNotifyClosed}},
	{StateClosing, EventCloseComplete}: {StateClosed, []Action{ActionNotifyClosed}},

	// A CLOSE or lease expiry can arrive in any pre-established state too.
	{StateInit, EventRecvClose}:       {StateClosed, []Action{ActionNotifyClosed}},
	{StateInitSent, EventRecvClose}:   {StateClosed, []Action{ActionNotifyClosed}},
	{StateInitAcked, EventRecvClose}:  {StateClosed, []Action{ActionNotifyClosed}},
	{StateOpenSent, EventRecvClose}:   {StateClosed, []Action{ActionNotifyClosed}},
}

// FSMResult is the outcome of applying one event: the state before and
// after, the actions owed, and whether the state actually changed.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// ApplyEvent looks up (currentState, event) in the transition table and
// returns the resulting FSMResult. Unrecognized pairs are no-ops: the
// state is returned unchanged with no actions, matching
// internal/bfd/fsm.go's ApplyEvent.
func ApplyEvent(currentState State, event Event) FSMResult {
	t, ok := fsmTable[stateEvent{currentState, event}]
	if !ok {
		return FSMResult{OldState: currentState, NewState: currentState}
	}
	return FSMResult{
		OldState: currentState,
		NewState: t.newState,
		Actions:  t.actions,
		Changed:  t.newState != currentState,
	}
}
