// Package journal defines the durable call-record history the bridge writes
// to, fire-and-forget, as calls start, end, and accumulate transcript
// entries. It is the one piece of state spec.md carves out as an external
// collaborator (§6.5); nothing else in this repo persists.
package journal

import (
	"time"

	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/types"
)

// Journal is implemented by every call-record backend: postgres for durable
// history, noop when journal.postgres_dsn is unset.
type Journal interface {
	CallStarted(rec telephony.CallRecord)
	CallEnded(callID string, reason telephony.EndReason)
	Transcript(callID string, entry types.TranscriptEntry)
}

// Record is the flattened row shape written by every Journal implementation.
type Record struct {
	CallID    string
	Provider  string
	From      string
	To        string
	Direction telephony.Direction
	StartTime time.Time
	EndTime   time.Time
	EndReason telephony.EndReason
}
