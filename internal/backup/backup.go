// Package backup drives a backup run: it recovers leftover parts from an
// interrupted run, walks the source directories, feeds files to the split
// tar producer and decides when parts rotate.
package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/glaciertar/glaciertar/internal/cloud"
	"github.com/glaciertar/glaciertar/internal/config"
	"github.com/glaciertar/glaciertar/internal/packager"
	"github.com/glaciertar/glaciertar/internal/statedb"
	"github.com/glaciertar/glaciertar/internal/workerpool"
)

// Options is the effective argument set of a backup run. It is what gets
// recorded in the runs table and replayed by `resume`.
type Options struct {
	DBFilename       string   `json:"db_filename"`
	SrcDirs          []string `json:"src_dirs"`
	OutputTemplate   string   `json:"output_filename_template"`
	SplitSize        int64    `json:"split_size"`
	Bucket           string   `json:"bucket"`
	NumUploadWorkers int      `json:"num_upload_workers"`
	Compression      string   `json:"compression"`
	Encrypt          bool     `json:"encrypt"`
	Autoclean        bool     `json:"autoclean"`
	TestRun          bool     `json:"test_run"`
	Endpoint         string   `json:"endpoint,omitempty"`
	AccessKeyID      string   `json:"access_key_id,omitempty"`
	SecretAccessKey  string   `json:"secret_access_key,omitempty"`
}

// splitSizeBytes interprets --split-size: gigabytes normally, megabytes
// under --test-run.
func (o Options) splitSizeBytes() int64 {
	if o.TestRun {
		return config.MBToBytes(o.SplitSize)
	}
	return config.GBToBytes(o.SplitSize)
}

// Run executes one backup (or resume) pass against the given uploader.
func Run(ctx context.Context, uploader cloud.Uploader, opts Options) (err error) {
	db, err := statedb.Open(opts.DBFilename, opts)
	if err != nil {
		return err
	}
	defer db.Close()

	pool := workerpool.New(ctx, workerpool.Options{
		Workers:   opts.NumUploadWorkers,
		Kind:      workerpool.KindUpload,
		Autoclean: opts.Autoclean,
		DB:        db,
		Uploader:  uploader,
	})
	defer func() {
		if cerr := pool.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	template, key, err := prepareOutput(db, opts)
	if err != nil {
		return err
	}

	if err := recoverPackagedParts(db, pool, template); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	uploaded, err := db.UploadedFiles()
	if err != nil {
		return err
	}
	uploadedParts, err := db.UploadedParts()
	if err != nil {
		return err
	}

	producer, err := packager.NewProducer(db, template, len(uploadedParts), key,
		opts.Compression, config.BufferMemSize, pool.Submit)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if cerr := producer.Close(committed); cerr != nil && err == nil {
			err = cerr
		}
	}()

	log.Info().Msgf("Starting a new TAR file '%s' for backup...", producer.CurrentPartName())

	splitSize := opts.splitSizeBytes()
	for _, srcDir := range opts.SrcDirs {
		if err := walkSource(ctx, srcDir, uploaded, producer, db, splitSize); err != nil {
			return err
		}
	}

	committed = true
	return nil
}

// prepareOutput creates the destination directory, applies the compression
// and encryption extensions to the output template and fetches or creates
// the encryption key.
func prepareOutput(db *statedb.DB, opts Options) (string, []byte, error) {
	template := opts.OutputTemplate
	if err := os.MkdirAll(filepath.Dir(template), 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if opts.Compression != "" && !strings.HasSuffix(strings.ToLower(template), "."+opts.Compression) {
		template += "." + opts.Compression
	}

	var key []byte
	if opts.Encrypt {
		template += config.EncryptedFileExtension
		var err error
		key, err = db.EncryptionKey()
		if err != nil {
			return "", nil, err
		}
	}
	return template, key, nil
}

// recoverPackagedParts re-enqueues parts a previous run finalized on disk
// but never uploaded, and waits for them to drain so their disk space is
// free before fresh parts are produced. Parts whose file has gone missing
// are marked FAILED.
func recoverPackagedParts(db *statedb.DB, pool *workerpool.Pool, template string) error {
	parts, err := db.PackagedParts()
	if err != nil {
		return err
	}

	dir := filepath.Dir(template)
	for _, part := range parts {
		path := filepath.Join(dir, part)
		info, statErr := os.Stat(path)
		if statErr == nil && info.Mode().IsRegular() {
			log.Info().Msgf("Found '%s' TAR file ready to upload. Putting on upload queue.", part)
			pool.Submit(path)
			continue
		}

		log.Error().Msgf("The TAR file '%s' is marked packaged but cannot be found! Ignoring.", part)
		os.Remove(path)
		if err := db.RecordPartState(part, statedb.StatusFailed); err != nil {
			return err
		}
	}

	pool.WaitOnAllTasks()
	return nil
}

// walkSource walks one source directory, skipping ignored names and
// symlinks, and feeds each remaining file to the producer. Files whose part
// is already UPLOADED are skipped; each skip consumes its entry so the same
// path appearing twice is only skipped once.
func walkSource(ctx context.Context, srcDir string, uploaded map[string]bool, producer *packager.Producer, db *statedb.DB, splitSize int64) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := d.Name()
		if d.IsDir() {
			if config.IgnoreDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if config.IgnoreFiles[name] || !d.Type().IsRegular() {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %q: %w", path, err)
		}

		if uploaded[abs] {
			delete(uploaded, abs)
			log.Info().Msgf("Skipping '%s' as it is marked as uploaded in state DB!", abs)
			return nil
		}

		if producer.Tell() >= splitSize {
			if err := producer.Rotate(); err != nil {
				return err
			}
			log.Info().Msgf("Starting a new TAR file '%s' for backup...", producer.CurrentPartName())
		}

		log.Info().Msgf("Processing '%s'...", abs)
		if err := db.RecordScheduled(abs, producer.CurrentPartName()); err != nil {
			return err
		}
		return producer.Add(abs)
	})
}
