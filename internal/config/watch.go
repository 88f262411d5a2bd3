package config

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Watch reloads path after it changes and passes the result to fn. Bursts
// of events within debounce collapse into one reload. The parent directory
// is watched, so a file replaced on save still triggers. Watching stops when
// ctx is done or the closer is called.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func(*Config, error)) (io.Closer, error) {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-timerC:
				timerC = nil
				fn(Load(abs))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config watcher error: %v", err)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if shouldTriggerReload(evt, abs) {
					resetTimer()
				}
			}
		}
	}()

	var once sync.Once
	return closerFunc(func() error {
		var err error
		once.Do(func() {
			close(stopCh)
			err = watcher.Close()
			<-doneCh
		})
		return err
	}), nil
}

func shouldTriggerReload(evt fsnotify.Event, path string) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(evt.Name)
	if err != nil {
		return false
	}
	return name == path
}
