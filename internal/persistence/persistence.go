package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drivetune/drivetune/internal/autotune"
	"github.com/drivetune/drivetune/internal/calibration"
	"github.com/drivetune/drivetune/internal/ui"
	bolt "go.etcd.io/bbolt"
)

const (
	BucketAutotuneRuns = "autotuneRuns"
	BucketCalibrations = "calibrations"
)

// AutotuneRecord is a finished (completed, aborted or failed) autotune run
type AutotuneRecord struct {
	Id        uint64                   `json:"id"`
	CreatedAt time.Time                `json:"createdAt"`
	Run       autotune.RunState        `json:"run"`
	Result    *autotune.AnalysisResult `json:"result,omitempty"`
	// whether the gains have been sent to the robot
	Applied bool `json:"applied"`
}

type CalibrationRecord struct {
	Id         uint64                   `json:"id"`
	CreatedAt  time.Time                `json:"createdAt"`
	Motor      calibration.Motor        `json:"motor"`
	Points     []calibration.Point      `json:"points"`
	Model      *calibration.LinearModel `json:"model,omitempty"`
	Polynomial *calibration.Polynomial  `json:"polynomial,omitempty"`
}

type Persistence interface {
	Init() error

	SaveAutotuneRun(record AutotuneRecord) (uint64, error)
	UpdateAutotuneRun(record AutotuneRecord) error
	LoadAutotuneRun(id uint64) (AutotuneRecord, error)
	ListAutotuneRuns() ([]AutotuneRecord, error)
	DeleteAutotuneRun(id uint64) error

	SaveCalibration(record CalibrationRecord) (uint64, error)
	LoadCalibration(id uint64) (CalibrationRecord, error)
	ListCalibrations() ([]CalibrationRecord, error)
	DeleteCalibration(id uint64) error
}

type persistence struct {
	dbPath string
}

func NewPersistence(dbPath string) Persistence {
	p := &persistence{
		dbPath: dbPath,
	}
	return p
}

func (p persistence) Init() (err error) {
	parentDir := filepath.Dir(p.dbPath)
	_, err = os.Stat(parentDir)
	if errors.Is(err, os.ErrNotExist) {
		ui.Info("Creating directory for db: %s", parentDir)
		err = os.MkdirAll(parentDir, 0755)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p persistence) openPersistence() (db *bolt.DB, err error) {
	db, err = bolt.Open(p.dbPath, 0600, &bolt.Options{Timeout: 1 * time.Minute})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// insert stores a new record under the next sequence number of the bucket
func (p persistence) insert(bucket string, encode func(id uint64) ([]byte, error)) (id uint64, err error) {
	db, err := p.openPersistence()
	if err != nil {
		return 0, err
	}
	defer func(db *bolt.DB) {
		_ = db.Close()
	}(db)

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		id, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := encode(id)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
	return id, err
}

func (p persistence) put(bucket string, id uint64, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	db, err := p.openPersistence()
	if err != nil {
		return err
	}
	defer func(db *bolt.DB) {
		_ = db.Close()
	}(db)

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil || b.Get(itob(id)) == nil {
			return os.ErrNotExist
		}
		return b.Put(itob(id), data)
	})
}

// load decodes a single record, a record that cannot be decoded is deleted
func (p persistence) load(bucket string, id uint64, value interface{}) error {
	db, err := p.openPersistence()
	if err != nil {
		return err
	}
	defer func(db *bolt.DB) {
		_ = db.Close()
	}(db)

	corrupt := false
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return os.ErrNotExist
		}
		v := b.Get(itob(id))
		if v == nil {
			return os.ErrNotExist
		}

		err := json.Unmarshal(v, value)
		if err != nil {
			// if we cannot read the saved data, delete it
			ui.Warning("Unable to unmarshal saved %s record %d: %v", bucket, id, err)
			corrupt = true
			err := b.Delete(itob(id))
			if err != nil {
				ui.Error("Unable to delete corrupt %s record %d: %v", bucket, id, err)
			}
		}
		return nil
	})
	if err == nil && corrupt {
		return os.ErrNotExist
	}
	return err
}

// list decodes all records of a bucket in insertion order, corrupt records are deleted
func (p persistence) list(bucket string, decode func(data []byte) error) error {
	db, err := p.openPersistence()
	if err != nil {
		return err
	}
	defer func(db *bolt.DB) {
		_ = db.Close()
	}(db)

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}

		var corrupt [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if err := decode(v); err != nil {
				ui.Warning("Unable to unmarshal saved %s record %d: %v", bucket, binary.BigEndian.Uint64(k), err)
				corrupt = append(corrupt, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range corrupt {
			if err := b.Delete(k); err != nil {
				ui.Error("Unable to delete corrupt %s record %d: %v", bucket, binary.BigEndian.Uint64(k), err)
			}
		}
		return nil
	})
}

func (p persistence) delete(bucket string, id uint64) error {
	db, err := p.openPersistence()
	if err != nil {
		return err
	}
	defer func(db *bolt.DB) {
		_ = db.Close()
	}(db)

	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			// no bucket yet
			return nil
		}
		if b.Get(itob(id)) == nil {
			// no data for given key
			return nil
		}
		return b.Delete(itob(id))
	})
}

// SaveAutotuneRun stores a new autotune run and returns its id
func (p persistence) SaveAutotuneRun(record AutotuneRecord) (uint64, error) {
	return p.insert(BucketAutotuneRuns, func(id uint64) ([]byte, error) {
		record.Id = id
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		return json.Marshal(record)
	})
}

// UpdateAutotuneRun replaces an existing autotune run
func (p persistence) UpdateAutotuneRun(record AutotuneRecord) error {
	return p.put(BucketAutotuneRuns, record.Id, record)
}

func (p persistence) LoadAutotuneRun(id uint64) (record AutotuneRecord, err error) {
	err = p.load(BucketAutotuneRuns, id, &record)
	return record, err
}

func (p persistence) ListAutotuneRuns() ([]AutotuneRecord, error) {
	records := []AutotuneRecord{}
	err := p.list(BucketAutotuneRuns, func(data []byte) error {
		var record AutotuneRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (p persistence) DeleteAutotuneRun(id uint64) error {
	return p.delete(BucketAutotuneRuns, id)
}

// SaveCalibration stores a new calibration sweep and returns its id
func (p persistence) SaveCalibration(record CalibrationRecord) (uint64, error) {
	return p.insert(BucketCalibrations, func(id uint64) ([]byte, error) {
		record.Id = id
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		return json.Marshal(record)
	})
}

func (p persistence) LoadCalibration(id uint64) (record CalibrationRecord, err error) {
	err = p.load(BucketCalibrations, id, &record)
	return record, err
}

func (p persistence) ListCalibrations() ([]CalibrationRecord, error) {
	records := []CalibrationRecord{}
	err := p.list(BucketCalibrations, func(data []byte) error {
		var record CalibrationRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (p persistence) DeleteCalibration(id uint64) error {
	return p.delete(BucketCalibrations, id)
}
