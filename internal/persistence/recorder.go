package persistence

import (
	"sync"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/ui"
)

// AutotuneRecorder stores every finished autotune run in the history
type AutotuneRecorder struct {
	mu          sync.Mutex
	persistence Persistence
	now         func() time.Time
	last        *AutotuneRecord
}

func NewAutotuneRecorder(persistence Persistence) *AutotuneRecorder {
	return &AutotuneRecorder{
		persistence: persistence,
		now:         time.Now,
	}
}

// OnEvent is a listener for the sequencer
func (r *AutotuneRecorder) OnEvent(event autotune.Event) {
	if !event.Finished() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record := AutotuneRecord{
		CreatedAt: r.now(),
		Run:       event.Run,
		Result:    event.Result,
	}
	id, err := r.persistence.SaveAutotuneRun(record)
	if err != nil {
		ui.Warning("Unable to store autotune run: %v", err)
		return
	}
	record.Id = id
	r.last = &record
	ui.Debug("Stored autotune run %d (%s)", id, event.Phase)
}

// MarkApplied flags the last recorded run as applied to the robot
func (r *AutotuneRecorder) MarkApplied() (AutotuneRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil || r.last.Result == nil {
		return AutotuneRecord{}, autotune.ErrNoResult
	}
	r.last.Applied = true
	if err := r.persistence.UpdateAutotuneRun(*r.last); err != nil {
		return AutotuneRecord{}, err
	}
	return *r.last, nil
}

// Last returns the last recorded run of this session
func (r *AutotuneRecorder) Last() (AutotuneRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return AutotuneRecord{}, false
	}
	return *r.last, true
}
