// Package statedb is the durable record of a backup: which source files went
// into which tar part, how far each part got through the upload lifecycle,
// the arguments of every run, and the encryption key. It is the single
// source of truth consulted on resume.
//
// The database is a local SQLite file opened through GORM with the pure-Go
// driver. A single handle is shared across the producer and all upload
// workers; one process-internal mutex serializes every write.
package statedb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/glaciertar/glaciertar/internal/crypto"
)

// ErrCorruptDB marks schema drift or malformed data in the state database.
// Corrupt state cannot be silently repaired; callers abort the run.
var ErrCorruptDB = errors.New("corrupt state database")

// DB is a handle to the state database. Safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	db     *gorm.DB
	closed bool
}

// Open opens or creates the state database at path, creating missing tables.
// When cmdArgs is non-nil a run row is appended with a UTC timestamp and the
// JSON-serialized arguments.
func Open(path string, cmdArgs any) (*DB, error) {
	// WAL lets `show` read while a backup writes; busy_timeout covers the
	// window where both hold the file lock.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %q: %w", path, err)
	}

	if err := gdb.AutoMigrate(&Work{}, &Run{}, &Secret{}); err != nil {
		return nil, fmt.Errorf("%w: schema migration failed: %v", ErrCorruptDB, err)
	}

	db := &DB{db: gdb}
	if cmdArgs != nil {
		if err := db.recordRun(cmdArgs); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close releases the underlying connection. Idempotent.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *DB) recordRun(cmdArgs any) error {
	blob, err := json.Marshal(cmdArgs)
	if err != nil {
		return fmt.Errorf("failed to serialize run arguments: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.db.Create(&Run{Datetime: time.Now().UTC(), CmdArgsJSON: string(blob)})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return nil
}

// RecordScheduled inserts a work row for filename scheduled into part,
// capturing the source file's mtime and size.
func (d *DB) RecordScheduled(filename, part string) error {
	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", filename, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.db.Create(&Work{
		Datetime:     time.Now().UTC(),
		TarFile:      part,
		Filename:     filename,
		ModifiedTime: info.ModTime().Unix(),
		Size:         info.Size(),
		Status:       StatusScheduled,
	})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return nil
}

// RecordPartState transitions every work row belonging to part to status.
func (d *DB) RecordPartState(part string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.db.Model(&Work{}).
		Where("tar_file = ?", part).
		Updates(map[string]any{
			"datetime": time.Now().UTC(),
			"status":   status,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return nil
}

// LastCmdArgs returns the most recent run's argument blob.
func (d *DB) LastCmdArgs() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var run Run
	res := d.db.Order("id DESC").Limit(1).Find(&run)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: no run records", ErrCorruptDB)
	}
	return []byte(run.CmdArgsJSON), nil
}

// UploadedFiles returns the set of source paths whose parts are UPLOADED.
func (d *DB) UploadedFiles() (map[string]bool, error) {
	names, err := d.workColumn("filename", StatusUploaded, false)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// UploadedParts returns the distinct part names with status UPLOADED.
func (d *DB) UploadedParts() ([]string, error) {
	return d.workColumn("tar_file", StatusUploaded, true)
}

// PackagedParts returns the distinct part names with status PACKAGED: parts
// finalized on disk by an earlier run but never uploaded.
func (d *DB) PackagedParts() ([]string, error) {
	return d.workColumn("tar_file", StatusPackaged, true)
}

func (d *DB) workColumn(column string, status Status, distinct bool) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	query := d.db.Model(&Work{}).Where("status = ?", status)
	if distinct {
		query = query.Distinct()
	}
	var values []string
	if res := query.Pluck(column, &values); res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return values, nil
}

// WorkRecords returns every work row ordered by id then filename.
func (d *DB) WorkRecords() ([]Work, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var works []Work
	res := d.db.Order("id ASC, filename ASC").Find(&works)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return works, nil
}

// CollatedWorkRecords groups work rows by their source path truncated
// collate directory levels upward. A group counts as uploaded only if every
// row in it is UPLOADED.
func (d *DB) CollatedWorkRecords(collate int) ([]CollatedRecord, error) {
	works, err := d.WorkRecords()
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*CollatedRecord)
	var order []string
	for _, w := range works {
		dir := w.Filename
		for i := 0; i < collate; i++ {
			parent := filepath.Dir(dir)
			if parent == "/" || parent == "." || parent == dir {
				break
			}
			dir = parent
		}

		rec, ok := groups[dir]
		if !ok {
			rec = &CollatedRecord{
				FirstID:  w.ID,
				Datetime: w.Datetime,
				Folder:   dir,
				Uploaded: w.Status == StatusUploaded,
			}
			groups[dir] = rec
			order = append(order, dir)
		} else if w.Status != StatusUploaded {
			rec.Uploaded = false
		}

		found := false
		for _, t := range rec.TarFiles {
			if t == w.TarFile {
				found = true
				break
			}
		}
		if !found {
			rec.TarFiles = append(rec.TarFiles, w.TarFile)
		}
	}

	records := make([]CollatedRecord, 0, len(order))
	for _, dir := range order {
		rec := groups[dir]
		sort.Strings(rec.TarFiles)
		records = append(records, *rec)
	}
	return records, nil
}

// EncryptionKey returns the stored encryption key, generating and persisting
// a fresh one if none exists yet. The key is immutable once stored.
func (d *DB) EncryptionKey() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var secret Secret
	res := d.db.Limit(1).Find(&secret)
	if res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	if res.RowsAffected > 0 {
		return []byte(secret.EncryptionKey), nil
	}

	key, err := crypto.GenerateKey(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	if res := d.db.Create(&Secret{EncryptionKey: key}); res.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return []byte(key), nil
}

// DeleteWorkRecord removes every work row belonging to part.
func (d *DB) DeleteWorkRecord(part string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.db.Where("tar_file = ?", part).Delete(&Work{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return nil
}

// DeleteAllWorkRecords removes every work row.
func (d *DB) DeleteAllWorkRecords() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.db.Where("1 = 1").Delete(&Work{})
	if res.Error != nil {
		return fmt.Errorf("%w: %v", ErrCorruptDB, res.Error)
	}
	return nil
}
