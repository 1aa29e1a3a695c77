package telephony

// StreamState is the per-stream lifecycle state, per spec §4.2c.
type StreamState int

const (
	// AwaitingStart: socket open, no start event received yet. Any media is
	// ignored with a warning.
	AwaitingStart StreamState = iota

	// Active: normal bidirectional operation.
	Active

	// Draining: local EndCall in progress or remote stop received. No more
	// outbound media is accepted; the socket closes after in-flight frames.
	Draining

	// Closed: all per-stream state purged.
	Closed
)

func (s StreamState) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting_start"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamMachine tracks one stream's lifecycle state. Transitions are
// idempotent: calling Close from any state ends in Closed, and Close's result
// reports whether the terminal callEnded event still has to fire.
type StreamMachine struct {
	state StreamState
	ended bool
}

// NewStreamMachine returns a machine in AwaitingStart.
func NewStreamMachine() *StreamMachine {
	return &StreamMachine{state: AwaitingStart}
}

// State returns the current state.
func (m *StreamMachine) State() StreamState {
	return m.state
}

// Start transitions AwaitingStart -> Active. A no-op if already past
// AwaitingStart.
func (m *StreamMachine) Start() {
	if m.state == AwaitingStart {
		m.state = Active
	}
}

// Drain transitions into Draining, from either Active or AwaitingStart.
// A no-op if already Draining or Closed.
func (m *StreamMachine) Drain() {
	if m.state == Active || m.state == AwaitingStart {
		m.state = Draining
	}
}

// Close transitions into Closed from any state. Returns true the first time
// it is called (i.e. the caller should emit callEnded); returns false on
// subsequent calls so callEnded fires at most once.
func (m *StreamMachine) Close() (shouldEmitEnded bool) {
	m.state = Closed
	if m.ended {
		return false
	}
	m.ended = true
	return true
}

// AcceptsMedia reports whether an inbound media envelope should be processed
// (true only in Active; AwaitingStart logs a warning and drops, Draining and
// Closed silently drop).
func (m *StreamMachine) AcceptsMedia() bool {
	return m.state == Active
}

// AcceptsOutbound reports whether outbound audio may still be sent.
func (m *StreamMachine) AcceptsOutbound() bool {
	return m.state == Active
}
