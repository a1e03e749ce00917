package persistence

import (
	"errors"
	"testing"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutotuneRecorder_IgnoresProgress(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	recorder := NewAutotuneRecorder(p)

	// WHEN
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseSettlingAtZero})
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseMeasuring})

	// THEN
	records, err := p.ListAutotuneRuns()
	require.NoError(t, err)
	assert.Empty(t, records)
	_, ok := recorder.Last()
	assert.False(t, ok)
}

func TestAutotuneRecorder_StoresFinishedRuns(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	recorder := NewAutotuneRecorder(p)
	completed := createAutotuneRecord()

	// WHEN
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseAborted, Run: autotune.RunState{AbortReason: "stopped by user"}})
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseIdle, Err: errors.New("insufficient data")})
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseCompleted, Run: completed.Run, Result: completed.Result})

	// THEN
	records, err := p.ListAutotuneRuns()
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "stopped by user", records[0].Run.AbortReason)

	last, ok := recorder.Last()
	assert.True(t, ok)
	assert.Equal(t, records[2].Id, last.Id)
	assert.Equal(t, 0.5, last.Result.Kp)
}

func TestAutotuneRecorder_MarkApplied(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	recorder := NewAutotuneRecorder(p)
	completed := createAutotuneRecord()
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseCompleted, Run: completed.Run, Result: completed.Result})

	// WHEN
	record, err := recorder.MarkApplied()

	// THEN
	require.NoError(t, err)
	assert.True(t, record.Applied)
	loaded, err := p.LoadAutotuneRun(record.Id)
	require.NoError(t, err)
	assert.True(t, loaded.Applied)
}

func TestAutotuneRecorder_MarkAppliedWithoutResult(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	recorder := NewAutotuneRecorder(p)
	recorder.OnEvent(autotune.Event{Phase: autotune.PhaseAborted})

	// WHEN
	_, err := recorder.MarkApplied()

	// THEN
	assert.ErrorIs(t, err, autotune.ErrNoResult)
}
