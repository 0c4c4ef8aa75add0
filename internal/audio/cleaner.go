package audio

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/voice-support-relay/internal/logging"
)

// StartRecordingCleaner starts a background goroutine that periodically
// scans dir for per-call recording directories, removing ones older than
// retention and enforcing maxCalls. Caller must call wg.Add(1) before
// calling this function; the goroutine calls wg.Done() on exit.
func StartRecordingCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxCalls int) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepRecordings(dir, retention, maxCalls)
			}
		}
	}()
}

func sweepRecordings(dir string, retention time.Duration, maxCalls int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("recording cleanup readDir failed", "dir", dir, "err", err)
		return
	}
	type callDir struct {
		path string
		mod  time.Time
	}
	var calls []callDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		st, serr := os.Stat(p)
		if serr != nil {
			continue
		}
		calls = append(calls, callDir{path: p, mod: st.ModTime()})
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].mod.Before(calls[j].mod) })

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, c := range calls {
		if c.mod.Before(cutoff) {
			if err := os.RemoveAll(c.path); err == nil {
				removed++
			}
		}
	}
	if maxCalls > 0 {
		left := len(calls) - removed
		if left > maxCalls {
			toRemove := left - maxCalls
			count := 0
			for _, c := range calls {
				if count >= toRemove {
					break
				}
				if _, err := os.Stat(c.path); err == nil {
					if rerr := os.RemoveAll(c.path); rerr == nil {
						count++
					}
				}
			}
			removed += count
		}
	}
	if removed > 0 {
		logging.Infow("recording cleanup removed calls", "dir", dir, "removed", removed)
	}
}
