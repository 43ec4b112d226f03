package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSupervisor(t *testing.T, cfg SupervisorConfig) *Supervisor {
	t.Helper()
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "sh"
	}
	if cfg.UpstreamHost == "" {
		cfg.UpstreamHost = "localhost:1935"
	}
	return NewSupervisor(cfg, testLogger())
}

func newDirSession(t *testing.T, resourcePath string) *Session {
	t.Helper()
	sess := NewSession(resourcePath, t.TempDir(), time.Now().UTC())
	if err := os.MkdirAll(sess.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return sess
}

// touchPlaylistArgs makes the stub process create the playlist and linger,
// standing in for a healthy transcoder.
func touchPlaylistArgs(_, playlistPath, _ string) []string {
	return []string{"-c", fmt.Sprintf("touch %s && sleep 2", playlistPath)}
}

func TestSupervisor_spawn_error(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{FFmpegBin: "/nonexistent/transcoder-bin"})
	sess := newDirSession(t, "/cam1.m3u8")

	err := sv.Start(context.Background(), sess)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if !strings.Contains(err.Error(), "spawn transcoder") {
		t.Errorf("error = %v, want spawn transcoder wrap", err)
	}
	if sv.Running(sess.ID) {
		t.Error("no process should be registered after spawn failure")
	}
}

func TestSupervisor_ready_on_playlist(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{})
	sv.argsFn = touchPlaylistArgs
	sess := newDirSession(t, "/cam1.m3u8")

	if err := sv.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-sess.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("session never became ready")
	}
	if sess.State() != StateReady {
		t.Errorf("state = %v, want ready", sess.State())
	}
	if !sv.Running(sess.ID) {
		t.Error("process should still be running")
	}
}

func TestSupervisor_start_timeout_kills_process(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{StartTimeout: 200 * time.Millisecond})
	sv.argsFn = func(_, _, _ string) []string {
		// Never produces a playlist.
		return []string{"-c", "sleep 30"}
	}
	sess := newDirSession(t, "/cam1.m3u8")

	if err := sv.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-sess.Failed():
	case <-time.After(3 * time.Second):
		t.Fatal("failure signal never fired")
	}
	if err := sess.StartErr(); !errors.Is(err, ErrStartTimeout) {
		t.Errorf("start error = %v, want ErrStartTimeout", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !sv.Running(sess.ID) })
	if sess.State() == StateReady {
		t.Error("session must never reach Ready after a start timeout")
	}
}

func TestSupervisor_early_exit_fails_start(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{})
	sv.argsFn = func(_, _, _ string) []string {
		return []string{"-c", "exit 1"}
	}
	sess := newDirSession(t, "/cam1.m3u8")

	exited := make(chan *Session, 1)
	sv.SetOnExit(func(s *Session) { exited <- s })

	if err := sv.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-sess.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("failure signal never fired for a crashing process")
	}

	select {
	case got := <-exited:
		if got.ID != sess.ID {
			t.Errorf("exit callback for %q, want %q", got.ID, sess.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("exit callback never fired")
	}
}

func TestSupervisor_stop_triggers_exit_callback(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{})
	sv.argsFn = touchPlaylistArgs
	sess := newDirSession(t, "/cam1.m3u8")

	exited := make(chan *Session, 1)
	sv.SetOnExit(func(s *Session) { exited <- s })

	if err := sv.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sv.Stop(sess)

	select {
	case <-exited:
	case <-time.After(3 * time.Second):
		t.Fatal("exit callback never fired after Stop")
	}
	if sv.Running(sess.ID) {
		t.Error("process still registered after exit")
	}

	// Stopping an already-stopped session is a no-op.
	sv.Stop(sess)
}

func TestSupervisor_stop_unknown_session_noop(t *testing.T) {
	sv := newTestSupervisor(t, SupervisorConfig{})
	sess := newDirSession(t, "/cam1.m3u8")
	sv.Stop(sess)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition never satisfied")
}
