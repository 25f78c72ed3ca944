package workerpool

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// progressUI renders one bar per in-flight upload. On a non-terminal stderr
// the bars are discarded and only log lines remain.
type progressUI struct {
	progress *mpb.Progress
	mu       sync.Mutex
	bars     map[string]*mpb.Bar
}

func newProgressUI() *progressUI {
	var p *mpb.Progress
	if term.IsTerminal(int(os.Stderr.Fd())) {
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(300*time.Millisecond),
		)
	} else {
		// Without a terminal mpb does not refresh on its own, and bars
		// would never complete; keep the render loop ticking into the void.
		p = mpb.New(mpb.WithOutput(io.Discard), mpb.WithAutoRefresh())
	}
	return &progressUI{progress: p, bars: make(map[string]*mpb.Bar)}
}

// track registers a bar for part and returns the cumulative-bytes callback
// handed to the uploader.
func (u *progressUI) track(part string, total int64) func(n int64) {
	if u == nil {
		return nil
	}

	bar := u.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(part, decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.AverageSpeed(decor.SizeB1024(0), "% .1f", decor.WCSyncSpace),
			decor.Name("  ETA "),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
		mpb.BarRemoveOnComplete(),
	)

	u.mu.Lock()
	u.bars[part] = bar
	u.mu.Unlock()

	return func(n int64) {
		bar.SetCurrent(n)
	}
}

// complete fills and removes the bar for part.
func (u *progressUI) complete(part string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	bar, ok := u.bars[part]
	delete(u.bars, part)
	u.mu.Unlock()
	if ok {
		bar.SetTotal(-1, true)
	}
}

// abandon drops the bar for a failed attempt; a retry registers a new one.
func (u *progressUI) abandon(part string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	bar, ok := u.bars[part]
	delete(u.bars, part)
	u.mu.Unlock()
	if ok {
		bar.Abort(true)
	}
}

// Wait shuts the render loop down after all bars are done.
func (u *progressUI) Wait() {
	if u == nil {
		return
	}
	u.progress.Wait()
}
