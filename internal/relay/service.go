package relay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hls-relay/internal/platform/metrics"
)

// Defaults for the session lifecycle knobs.
const (
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultStartTimeout = 30 * time.Second
	DefaultServeWait    = 10 * time.Second
)

// Config holds the service's startup configuration, read once in main.
type Config struct {
	// UpstreamHost is the host:port of the live source server.
	UpstreamHost string
	// FFmpegBin is the transcoder executable, "ffmpeg" by default.
	FFmpegBin string
	// TmpRoot is the shared parent of all session artifact directories.
	TmpRoot string
	// IdleTimeout is the inactivity window before a session is reaped.
	IdleTimeout time.Duration
	// StartTimeout bounds a session start.
	StartTimeout time.Duration
	// ServeWait bounds how long a playlist request waits for readiness.
	ServeWait time.Duration
}

// Service coordinates the registry, supervisor, and reaper behind the HTTP
// handlers. All teardown triggers (idle expiry, process exit, shutdown)
// funnel through the one Teardown path.
type Service struct {
	cfg        Config
	registry   Registry
	supervisor *Supervisor
	reaper     *Reaper
	log        *slog.Logger
	metrics    *metrics.Metrics

	shutdownOnce sync.Once
}

// starterFunc adapts a function to the Starter interface.
type starterFunc func(ctx context.Context, sess *Session) error

func (f starterFunc) Start(ctx context.Context, sess *Session) error { return f(ctx, sess) }

// NewService wires up a Service and its components. m may be nil to disable
// metric recording (e.g. in tests).
func NewService(cfg Config, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.TmpRoot == "" {
		cfg.TmpRoot = filepath.Join(os.TempDir(), "hls-relay")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.ServeWait <= 0 {
		cfg.ServeWait = DefaultServeWait
	}

	s := &Service{cfg: cfg, log: log, metrics: m}

	s.supervisor = NewSupervisor(SupervisorConfig{
		FFmpegBin:    cfg.FFmpegBin,
		UpstreamHost: cfg.UpstreamHost,
		StartTimeout: cfg.StartTimeout,
	}, log)
	s.supervisor.SetOnExit(func(sess *Session) {
		s.Teardown(sess, "process exit")
	})
	s.supervisor.SetOnStartFailed(func(sess *Session, err error) {
		if s.metrics != nil {
			s.metrics.IncStartFailures()
		}
	})

	s.registry = NewInMemoryRegistry(starterFunc(func(ctx context.Context, sess *Session) error {
		err := s.supervisor.Start(ctx, sess)
		if s.metrics != nil {
			if err != nil {
				s.metrics.IncStartFailures()
			} else {
				s.metrics.IncSessionsStarted()
			}
		}
		return err
	}), cfg.TmpRoot)

	s.reaper = NewReaper(cfg.IdleTimeout, s.expireSession)

	return s
}

// Playlist resolves (creating if needed) the session for resourcePath,
// waits up to the serve-wait bound for it to become servable, and returns
// the playlist content with segment references rewritten against base
// (e.g. "http://host:8080/cam1"). Resolve failures propagate; a session
// still starting past the bound yields ErrNotReady and stays alive.
func (s *Service) Playlist(ctx context.Context, resourcePath, base string) (string, error) {
	sess, err := s.registry.Resolve(ctx, resourcePath)
	if err != nil {
		return "", err
	}
	s.reaper.Schedule(sess.ID)

	if err := s.awaitReady(ctx, sess); err != nil {
		return "", err
	}

	content, err := os.ReadFile(filepath.Join(sess.Dir, PlaylistFilename))
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}

	s.touch(sess)
	return RewritePlaylist(content, base), nil
}

// awaitReady blocks until the session's readiness signal, its failure
// signal, the serve-wait ceiling, or ctx cancellation, whichever comes
// first. A session still starting at the ceiling yields ErrNotReady and
// stays alive.
func (s *Service) awaitReady(ctx context.Context, sess *Session) error {
	limit := time.NewTimer(s.cfg.ServeWait)
	defer limit.Stop()

	select {
	case <-sess.Ready():
		return nil
	case <-sess.Failed():
		return sess.StartErr()
	case <-limit.C:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SegmentPath maps a segment request to a file inside the owning session's
// artifact directory. Unknown sessions and missing files yield ErrNotFound;
// a file elsewhere on disk is never served.
func (s *Service) SegmentPath(resourcePath, filename string) (string, error) {
	sess, ok := s.registry.Find(resourcePath)
	if !ok {
		return "", ErrNotFound
	}

	// The filename comes verbatim from the request target; anything that
	// is not a bare name stays out of the artifact directory.
	if filename == "" || filename != filepath.Base(filename) {
		return "", ErrNotFound
	}

	p := filepath.Join(sess.Dir, filename)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}

	s.touch(sess)
	return p, nil
}

// touch counts any playlist or segment access as activity.
func (s *Service) touch(sess *Session) {
	sess.Touch(time.Now().UTC())
	s.reaper.Touch(sess.ID)
}

// expireSession is the reaper's deadline callback.
func (s *Service) expireSession(sessionID string) {
	for _, sess := range s.registry.Sessions() {
		if sess.ID == sessionID {
			s.log.Info("session idle, reaping",
				slog.String("session_id", sessionID),
				slog.String("resource_path", sess.ResourcePath))
			if s.metrics != nil {
				s.metrics.IncSessionsReaped()
			}
			s.Teardown(sess, "idle timeout")
			return
		}
	}
}

// Teardown stops the session's process, removes its registry entry, and
// deletes its artifact directory. Exactly one caller performs it; every
// other trigger (reaper, process exit, shutdown) becomes a no-op. Deletion
// failures are logged, never escalated.
func (s *Service) Teardown(sess *Session, reason string) {
	if !sess.beginClose() {
		return
	}

	s.reaper.Cancel(sess.ID)
	s.supervisor.Stop(sess)
	s.registry.Remove(sess.ID)

	if err := os.RemoveAll(sess.Dir); err != nil {
		s.log.Warn("artifact cleanup failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
	sess.closed()

	s.log.Info("session closed",
		slog.String("session_id", sess.ID),
		slog.String("resource_path", sess.ResourcePath),
		slog.String("reason", reason))
}

// Shutdown drains every session and removes the shared tmp root. Safe to
// invoke more than once; only the first call does the work.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.reaper.CancelAll()
		for _, sess := range s.registry.Sessions() {
			s.Teardown(sess, "shutdown")
		}
		if err := os.RemoveAll(s.cfg.TmpRoot); err != nil {
			s.log.Warn("tmp root cleanup failed", slog.String("error", err.Error()))
		}
		s.log.Info("all sessions drained")
	})
}

// Sessions returns the /status snapshot.
func (s *Service) Sessions() []SessionInfo {
	sessions := s.registry.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:             sess.ID,
			ResourcePath:   sess.ResourcePath,
			CreatedAt:      sess.CreatedAt,
			LastAccessedAt: sess.LastAccessed(),
			Running:        s.supervisor.Running(sess.ID),
		})
	}
	return out
}

// ActiveCount returns the number of live sessions for /health and metrics.
func (s *Service) ActiveCount() int {
	return s.registry.ActiveCount()
}
