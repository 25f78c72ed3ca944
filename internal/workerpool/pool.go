// Package workerpool runs upload and decrypt tasks on a fixed set of
// workers, records each part's lifecycle in the state database and applies
// backpressure to the producer so finished parts cannot pile up on disk.
package workerpool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glaciertar/glaciertar/internal/cloud"
	"github.com/glaciertar/glaciertar/internal/config"
	"github.com/glaciertar/glaciertar/internal/crypto"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

// Kind selects what the pool's workers do with a submitted file.
type Kind int

const (
	// KindUpload pushes finalized parts to the object store.
	KindUpload Kind = iota
	// KindDecrypt stream-decrypts downloaded ciphertexts.
	KindDecrypt
)

func (k Kind) String() string {
	if k == KindDecrypt {
		return "decrypt"
	}
	return "upload"
}

// verbs returns the progressive and past forms used in log lines.
func (k Kind) verbs() (string, string) {
	if k == KindDecrypt {
		return "Decrypting", "Decrypted"
	}
	return "Uploading", "Uploaded"
}

// Options configures a Pool.
type Options struct {
	Workers   int
	Kind      Kind
	Autoclean bool // remove the task's input file on success
	DB        *statedb.DB
	Uploader  cloud.Uploader // required for KindUpload
	// ProduceAhead is how many tasks may queue beyond the worker count
	// before Submit blocks. Defaults to config.NumWorksProduceAhead.
	ProduceAhead int
	// RetryWaitMin/Max bound the random backoff between failed attempts.
	// Default to the config values.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// DecryptBlockSize is the read block for decrypt tasks.
	DecryptBlockSize int
}

// Pool is a bounded-concurrency task queue. Submit blocks once
// Workers+ProduceAhead tasks are in flight, which caps both memory held by
// uploads and the number of finished parts waiting on disk.
type Pool struct {
	opts  Options
	ctx   context.Context
	tasks chan string
	ui    *progressUI

	workersWG sync.WaitGroup // worker goroutines
	tasksWG   sync.WaitGroup // outstanding tasks

	mu      sync.Mutex
	lastErr error
	closed  bool
}

// New starts a pool of opts.Workers workers. The context governs
// cancellation: when it is done, queued tasks are dropped and in-flight
// tasks finish their current attempt without further retries.
func New(ctx context.Context, opts Options) *Pool {
	if opts.ProduceAhead <= 0 {
		opts.ProduceAhead = config.NumWorksProduceAhead
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = config.RetryWaitMin
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = config.RetryWaitMax
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	if opts.DecryptBlockSize <= 0 {
		opts.DecryptBlockSize = config.BufferMemSize
	}

	p := &Pool{
		opts:  opts,
		ctx:   ctx,
		tasks: make(chan string, opts.ProduceAhead),
	}
	if opts.Kind == KindUpload {
		p.ui = newProgressUI()
	}

	p.workersWG.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues one file for processing. Blocks while Workers+ProduceAhead
// tasks are outstanding; returns immediately once the pool's context is
// cancelled.
func (p *Pool) Submit(path string) {
	p.tasksWG.Add(1)
	select {
	case p.tasks <- path:
	case <-p.ctx.Done():
		p.tasksWG.Done()
	}
}

// WaitOnAllTasks blocks until every previously-submitted task has finished.
func (p *Pool) WaitOnAllTasks() {
	p.tasksWG.Wait()
}

// Close drains the pool: no further Submit calls are allowed, and Close
// returns once every worker has exited. Returns the last error of a task
// that was abandoned (transient failures cleared by a later successful
// retry are not reported).
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.lastErr
	}
	p.closed = true
	p.mu.Unlock()

	close(p.tasks)
	p.workersWG.Wait()
	if p.ui != nil {
		p.ui.Wait()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Pool) worker() {
	defer p.workersWG.Done()
	for path := range p.tasks {
		if p.ctx.Err() != nil {
			// Cancelled: drop queued-but-unstarted tasks.
			p.tasksWG.Done()
			continue
		}
		if err := p.run(path); err != nil {
			p.mu.Lock()
			p.lastErr = err
			p.mu.Unlock()
		}
		p.tasksWG.Done()
	}
}

// run processes one task, retrying upload failures with a uniformly-random
// backoff until success or cancellation.
func (p *Pool) run(path string) error {
	part := filepath.Base(path)
	doing, done := p.opts.Kind.verbs()

	for {
		if p.opts.Kind == KindUpload {
			if err := p.opts.DB.RecordPartState(part, statedb.StatusStarted); err != nil {
				return err
			}
		}
		log.Info().Str("file", path).Msgf("%s '%s'...", doing, part)

		err := p.work(path, part)
		if err == nil {
			break
		}
		if p.opts.Kind == KindUpload {
			if dberr := p.opts.DB.RecordPartState(part, statedb.StatusFailed); dberr != nil {
				return dberr
			}
		}
		log.Error().Err(err).Str("file", path).Msgf("Failed to %s '%s'", p.opts.Kind, part)

		if p.ctx.Err() != nil {
			return err
		}
		wait := p.retryWait()
		log.Info().Msgf("Will be retrying in %s.", wait.Round(time.Minute))
		select {
		case <-p.ctx.Done():
			return err
		case <-time.After(wait):
		}
	}

	if p.opts.Kind == KindUpload {
		if err := p.opts.DB.RecordPartState(part, statedb.StatusUploaded); err != nil {
			return err
		}
	}
	log.Info().Str("file", path).Msgf("%s '%s'.", done, part)
	return nil
}

func (p *Pool) work(path, part string) error {
	switch p.opts.Kind {
	case KindUpload:
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %q: %w", path, err)
		}
		progress := p.ui.track(part, info.Size())
		if err := p.opts.Uploader.Upload(p.ctx, path, part, progress); err != nil {
			p.ui.abandon(part)
			return err
		}
		p.ui.complete(part)

	case KindDecrypt:
		key, err := p.opts.DB.EncryptionKey()
		if err != nil {
			return err
		}
		output := strings.TrimSuffix(path, config.EncryptedFileExtension)
		if err := crypto.DecryptFile(path, output, key, p.opts.DecryptBlockSize); err != nil {
			return err
		}
	}

	if p.opts.Autoclean {
		// Best-effort: a leftover input file is untidy, not fatal.
		os.Remove(path)
	}
	return nil
}

func (p *Pool) retryWait() time.Duration {
	spread := p.opts.RetryWaitMax - p.opts.RetryWaitMin
	if spread <= 0 {
		return p.opts.RetryWaitMin
	}
	return p.opts.RetryWaitMin + rand.N(spread)
}
