package policy

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader re-runs a reload function when watched files change or SIGHUP
// arrives. Scans already running keep their old snapshot.
type Reloader struct {
	watcher *fsnotify.Watcher
	reload  func() error
}

// NewReloader creates a file watcher over the given paths. Paths that do
// not exist are skipped.
func NewReloader(reload func() error, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: create file watcher: %w", err)
	}

	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("policy: watch %q: %w", p, err)
		}
	}

	return &Reloader{watcher: watcher, reload: reload}, nil
}

// Run blocks until ctx is cancelled, reloading on SIGHUP immediately and on
// file writes after a 500ms debounce.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case <-hup:
			if err := r.reload(); err != nil {
				fmt.Fprintf(os.Stderr, "policy reload failed: %v\n", err)
			} else {
				fmt.Fprintln(os.Stderr, "policy reloaded on SIGHUP")
			}

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					if err := r.reload(); err != nil {
						fmt.Fprintf(os.Stderr, "policy reload failed: %v\n", err)
					} else {
						fmt.Fprintln(os.Stderr, "policy reloaded after config change")
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "policy watcher error: %v\n", err)
		}
	}
}
