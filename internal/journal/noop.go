package journal

import (
	"github.com/ringbridge/telephony/internal/telephony"
	"github.com/ringbridge/telephony/pkg/types"
)

// Noop discards every write. Used when journal.postgres_dsn is empty.
type Noop struct{}

var _ Journal = Noop{}

func (Noop) CallStarted(telephony.CallRecord)        {}
func (Noop) CallEnded(string, telephony.EndReason)   {}
func (Noop) Transcript(string, types.TranscriptEntry) {}
