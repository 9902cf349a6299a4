package tx

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Stage is a step of the submission lifecycle.
type Stage string

const (
	StagePrepared     Stage = "prepared"
	StageFeeCompleted Stage = "fee_completed"
	StageBroadcast    Stage = "broadcast"
	StageConfirmed    Stage = "confirmed"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transition follows.
func (s Stage) Terminal() bool {
	return s == StageConfirmed || s == StageFailed
}

// Event records one stage transition.
type Event struct {
	From        common.Address
	To          *common.Address
	Nonce       *uint64
	Hash        common.Hash
	Stage       Stage
	FailedStage Stage
	Error       string
	BlockNumber uint64
	Blob        bool
	At          time.Time
}

// Journal persists stage transitions. Errors are logged by the submitter and
// never fail a submission.
type Journal interface {
	Record(ctx context.Context, ev Event) error
}

// MemoryJournal keeps events in memory.
type MemoryJournal struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryJournal returns an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends ev.
func (j *MemoryJournal) Record(_ context.Context, ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (j *MemoryJournal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// ByHash returns the events recorded for hash in order.
func (j *MemoryJournal) ByHash(hash common.Hash) []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Event
	for _, ev := range j.events {
		if ev.Hash == hash {
			out = append(out, ev)
		}
	}
	return out
}
