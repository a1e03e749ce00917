package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func createPersistence(t *testing.T) (Persistence, string) {
	dbPath := filepath.Join(t.TempDir(), "db", "drivetune.db")
	p := NewPersistence(dbPath)
	require.NoError(t, p.Init())
	return p, dbPath
}

func createAutotuneRecord() AutotuneRecord {
	return AutotuneRecord{
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Run: autotune.RunState{
			Config: autotune.RunConfig{
				TargetVelocity: 20,
				Motor:          autotune.MotorLeft,
				Duration:       3 * time.Second,
				Aggressiveness: 1,
			},
			Samples: []autotune.Sample{{Time: 0, Velocity: 0}, {Time: 50, Velocity: 4.5}},
			Phase:   autotune.PhaseCompleted,
		},
		Result: &autotune.AnalysisResult{
			Gains: autotune.Gains{Kp: 0.5, Ki: 0.1, Kd: 0.01},
		},
	}
}

func TestPersistence_Init_CreatesDirectory(t *testing.T) {
	// GIVEN
	_, dbPath := createPersistence(t)

	// THEN
	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPersistence_SaveAndLoadAutotuneRun(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	record := createAutotuneRecord()

	// WHEN
	id, err := p.SaveAutotuneRun(record)
	require.NoError(t, err)
	loaded, err := p.LoadAutotuneRun(id)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, id, loaded.Id)
	assert.Equal(t, record.Run.Config, loaded.Run.Config)
	assert.Equal(t, record.Run.Samples, loaded.Run.Samples)
	assert.Equal(t, autotune.PhaseCompleted, loaded.Run.Phase)
	require.NotNil(t, loaded.Result)
	assert.Equal(t, record.Result.Gains, loaded.Result.Gains)
	assert.True(t, record.CreatedAt.Equal(loaded.CreatedAt))
}

func TestPersistence_ListAutotuneRuns(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	for i := 0; i < 3; i++ {
		_, err := p.SaveAutotuneRun(createAutotuneRecord())
		require.NoError(t, err)
	}

	// WHEN
	records, err := p.ListAutotuneRuns()

	// THEN
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Id)
	}
}

func TestPersistence_ListAutotuneRuns_Empty(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)

	// WHEN
	records, err := p.ListAutotuneRuns()

	// THEN
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPersistence_UpdateAutotuneRun(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	id, err := p.SaveAutotuneRun(createAutotuneRecord())
	require.NoError(t, err)
	record, err := p.LoadAutotuneRun(id)
	require.NoError(t, err)

	// WHEN
	record.Applied = true
	err = p.UpdateAutotuneRun(record)

	// THEN
	require.NoError(t, err)
	loaded, err := p.LoadAutotuneRun(id)
	require.NoError(t, err)
	assert.True(t, loaded.Applied)

	// WHEN
	err = p.UpdateAutotuneRun(AutotuneRecord{Id: 42})

	// THEN
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistence_DeleteAutotuneRun(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	id, err := p.SaveAutotuneRun(createAutotuneRecord())
	require.NoError(t, err)

	// WHEN
	err = p.DeleteAutotuneRun(id)

	// THEN
	assert.NoError(t, err)
	_, err = p.LoadAutotuneRun(id)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoError(t, p.DeleteAutotuneRun(id))
}

func TestPersistence_CorruptRecordIsDeleted(t *testing.T) {
	// GIVEN
	p, dbPath := createPersistence(t)
	id, err := p.SaveAutotuneRun(createAutotuneRecord())
	require.NoError(t, err)
	_, err = p.SaveAutotuneRun(createAutotuneRecord())
	require.NoError(t, err)

	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	err = db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketAutotuneRuns)).Put(itob(id), []byte("{not json"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// WHEN
	records, err := p.ListAutotuneRuns()

	// THEN
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(2), records[0].Id)
	_, err = p.LoadAutotuneRun(id)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPersistence_Calibrations(t *testing.T) {
	// GIVEN
	p, _ := createPersistence(t)
	record := CalibrationRecord{
		Motor: calibration.MotorBoth,
		Points: []calibration.Point{
			{Pwm: 100, LeftVelocity: 10, RightVelocity: 11},
			{Pwm: 150, LeftVelocity: 30, RightVelocity: 31},
		},
		Model: &calibration.LinearModel{
			Left: calibration.MotorModel{Deadzone: 60, Gain: 2.5, Valid: true},
		},
	}

	// WHEN
	id, err := p.SaveCalibration(record)
	require.NoError(t, err)
	loaded, err := p.LoadCalibration(id)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, record.Points, loaded.Points)
	assert.Equal(t, record.Model, loaded.Model)
	assert.Nil(t, loaded.Polynomial)
	assert.False(t, loaded.CreatedAt.IsZero())

	list, err := p.ListCalibrations()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, p.DeleteCalibration(id))
	list, err = p.ListCalibrations()
	require.NoError(t, err)
	assert.Empty(t, list)
}
