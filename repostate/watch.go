package repostate

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pkglab/pkglab/internal/dcontext"
)

// watchDebounce coalesces a burst of sidecar writes (e.g. a SyncPlan fan-out
// saving many repos at once) into a single cache invalidation.
const watchDebounce = 200 * time.Millisecond

// Watch watches the repos directory for sidecar files changing outside this
// Store's own writes and invalidates the Active() cache accordingly. It
// blocks until ctx is canceled or the watcher fails to start, so callers run
// it in its own goroutine. A failure to start the watcher (directory not
// yet created, inotify limits) is logged and treated as non-fatal: the
// cache then simply stays cold and every Active() call re-reads disk.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		dcontext.GetLoggerWithField(ctx, "dir", s.dir).WithError(err).Warn("repostate: watcher unavailable, external sidecar changes will not invalidate the cache")
		return nil
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		dcontext.GetLoggerWithField(ctx, "dir", s.dir).WithError(err).Warn("repostate: watch add failed, external sidecar changes will not invalidate the cache")
		return nil
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(watchDebounce)
			}
		case <-fire:
			s.invalidate()
			timer = nil
			fire = nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			dcontext.GetLogger(ctx).WithError(err).Warn("repostate: watcher error")
		}
	}
}
