package callbackserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/r9s-ai/paypoint-blue/internal/config"
	"github.com/r9s-ai/paypoint-blue/internal/logx"
	"github.com/r9s-ai/paypoint-blue/pkg/callback"
)

const shutdownTimeout = 10 * time.Second

// Run serves callbacks until ctx is done.
func Run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	accessLogger, accessClose, accessColor, err := openAccessLogger(cfg)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}

	pidCleanup, err := writePIDFile(cfg)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	rl := &reloader{path: cfgPath, actions: callback.NewStaticActions(cfg.Actions())}

	stopSignals := installReloadSignalHandler(rl)
	defer stopSignals()

	if cfg.Callbacks.AutoReload.Enabled {
		debounce := time.Duration(cfg.Callbacks.AutoReload.DebounceMs) * time.Millisecond
		w, err := config.Watch(ctx, cfgPath, debounce, func(next *config.Config, err error) {
			if err != nil {
				log.Printf("auto reload failed: %v", err)
				return
			}
			rl.apply(next)
			log.Printf("auto reload ok")
		})
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer func() { _ = w.Close() }()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      NewRouter(cfg, rl.actions, accessLogger, accessColor),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("blue-callbacks listening on %s", cfg.Server.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("run: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// reloader re-reads the config file and swaps the callback reply table.
// Listen address, token and dump settings need a restart.
type reloader struct {
	mu      sync.Mutex
	path    string
	actions *callback.StaticActions
}

func (r *reloader) reload() error {
	cfg, err := config.Load(r.path)
	if err != nil {
		return fmt.Errorf("reload config %q: %w", r.path, err)
	}
	r.apply(cfg)
	return nil
}

func (r *reloader) apply(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions.SetActions(cfg.Actions())
}

func installReloadSignalHandler(rl *reloader) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if err := rl.reload(); err != nil {
					log.Printf("reload failed: %v", err)
					continue
				}
				log.Printf("reload ok")
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func openAccessLogger(cfg *config.Config) (*log.Logger, io.Closer, bool, error) {
	if cfg == nil || !cfg.AccessLogEnabled() {
		return nil, nil, false, nil
	}

	path := strings.TrimSpace(cfg.Logging.AccessLogPath)
	if path == "" {
		return log.New(os.Stdout, "", log.LstdFlags), nil, logx.ColorEnabled(), nil
	}

	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", log.LstdFlags), f, false, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func writePIDFile(cfg *config.Config) (io.Closer, error) {
	if cfg == nil {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Server.PidFile)
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	tmp := path + ".tmp"
	pid := strconv.Itoa(os.Getpid()) + "\n"
	// #nosec G304 -- pid_file comes from trusted config/env.
	if err := os.WriteFile(tmp, []byte(pid), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}
