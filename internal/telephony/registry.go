package telephony

import (
	"sync"
)

// stream holds the per-stream state an adapter's Registry tracks: the
// socket handle (opaque to the registry — adapters store their own
// connection type via the Socket field), the state machine, and the
// counters spec.md §3/§4.3 requires.
type stream struct {
	CallID   string
	StreamID string
	Socket   any
	Machine  *StreamMachine

	// ChunkCount is the outbound media-envelope counter; strictly
	// monotonically increasing from 1 over the life of the stream.
	ChunkCount int64

	// SequenceNumber is a separate diagnostic-only counter (used by
	// TataLike).
	SequenceNumber int64

	// Residual holds bytes accumulated toward the next fixed-size outbound
	// frame (TataLike only; unused by providers without frame alignment).
	Residual []byte

	// PendingMarks records mark names emitted but not yet acknowledged
	// (TataLike flush/mark bookkeeping).
	PendingMarks []string

	Record CallRecord
}

// Registry maps callId <-> streamId <-> socket for one adapter, plus
// per-stream counters and per-call send buffers. Lookups are O(1); All copies
// every record.
// Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	streamsByID   map[string]*stream
	callToStream  map[string]string
	socketToID    map[any]string
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		streamsByID:  make(map[string]*stream),
		callToStream: make(map[string]string),
		socketToID:   make(map[any]string),
	}
}

// Register binds a new streamId to a callId and socket, starting in
// AwaitingStart. Returns a *ProtocolError if streamID is already registered
// (the caller should close the second socket).
func (r *Registry) Register(streamID, callID string, socket any) (*stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streamsByID[streamID]; exists {
		return nil, &ProtocolError{StreamID: streamID, Reason: "duplicate stream registration"}
	}

	s := &stream{
		CallID:   callID,
		StreamID: streamID,
		Socket:   socket,
		Machine:  NewStreamMachine(),
	}
	r.streamsByID[streamID] = s
	r.callToStream[callID] = streamID
	r.socketToID[socket] = streamID
	return s, nil
}

// Get returns the stream registered under streamID, if any.
func (r *Registry) Get(streamID string) (*stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streamsByID[streamID]
	return s, ok
}

// GetByCallID returns the stream bound to callID, if any.
func (r *Registry) GetByCallID(callID string) (*stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	streamID, ok := r.callToStream[callID]
	if !ok {
		return nil, false
	}
	s, ok := r.streamsByID[streamID]
	return s, ok
}

// GetBySocket performs the reverse lookup used when a socket closes.
func (r *Registry) GetBySocket(socket any) (*stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	streamID, ok := r.socketToID[socket]
	if !ok {
		return nil, false
	}
	s, ok := r.streamsByID[streamID]
	return s, ok
}

// Purge removes all state for streamID (used when a socket closes or a call
// ends). Safe to call more than once.
func (r *Registry) Purge(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streamsByID[streamID]
	if !ok {
		return
	}
	delete(r.streamsByID, streamID)
	delete(r.callToStream, s.CallID)
	delete(r.socketToID, s.Socket)
}

// All returns a snapshot of every registered stream.
func (r *Registry) All() []*stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*stream, 0, len(r.streamsByID))
	for _, s := range r.streamsByID {
		out = append(out, s)
	}
	return out
}

// Len reports how many streams are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streamsByID)
}
