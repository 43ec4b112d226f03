package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	// Fixed encoding profile: one rendition, 4s segments, a 10-segment
	// playlist window, expired segments deleted by the transcoder.
	hlsSegmentSeconds = "4"
	hlsWindowSize     = "10"

	segmentPattern    = "segment_%03d.ts"
	readyPollInterval = 250 * time.Millisecond
)

// SupervisorConfig holds the start-time knobs for the Supervisor.
type SupervisorConfig struct {
	// FFmpegBin is the transcoder executable, "ffmpeg" by default.
	FFmpegBin string
	// UpstreamHost is the host:port of the live source server.
	UpstreamHost string
	// StartTimeout bounds the wait for the playlist file to appear.
	StartTimeout time.Duration
}

// Supervisor starts and stops one external transcoder process per session.
// It owns all process handles; nothing outside this type touches them.
type Supervisor struct {
	cfg SupervisorConfig
	log *slog.Logger

	mu    sync.Mutex
	procs map[string]*process

	// onExit fires whenever a process ends, regardless of why.
	onExit func(sess *Session)

	// onStartFailed fires when a session dies or times out before Ready.
	onStartFailed func(sess *Session, err error)

	// argsFn builds the transcoder argument vector; tests substitute it.
	argsFn func(input, playlistPath, segmentPath string) []string
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// NewSupervisor constructs a Supervisor. Call SetOnExit before Start so
// process exits reach the teardown path.
func NewSupervisor(cfg SupervisorConfig, log *slog.Logger) *Supervisor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	return &Supervisor{
		cfg:    cfg,
		log:    log,
		procs:  make(map[string]*process),
		argsFn: transcodeArgs,
	}
}

// SetOnExit registers the callback invoked after a session's process has
// terminated for any reason (normal exit, kill, crash).
func (sv *Supervisor) SetOnExit(fn func(sess *Session)) {
	sv.onExit = fn
}

// SetOnStartFailed registers the callback invoked when a session never
// reaches Ready (start timeout or pre-ready process death).
func (sv *Supervisor) SetOnStartFailed(fn func(sess *Session, err error)) {
	sv.onStartFailed = fn
}

// transcodeArgs is the fixed argument contract of the external transcoder.
func transcodeArgs(input, playlistPath, segmentPath string) []string {
	return []string{
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", hlsSegmentSeconds,
		"-hls_list_size", hlsWindowSize,
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", segmentPath,
		playlistPath,
	}
}

// Start launches the transcoder for sess and returns as soon as the process
// is spawned; readiness detection continues in the background and surfaces
// through the session's Ready/Failed signals. A session that never becomes
// ready within the start timeout is killed (ErrStartTimeout recorded on the
// session) and torn down via the exit callback. The session's artifact
// directory must already exist.
func (sv *Supervisor) Start(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	input := UpstreamURL(sv.cfg.UpstreamHost, sess.ResourcePath)
	playlistPath := filepath.Join(sess.Dir, PlaylistFilename)
	segmentPath := filepath.Join(sess.Dir, segmentPattern)

	cmd := exec.Command(sv.cfg.FFmpegBin, sv.argsFn(input, playlistPath, segmentPath)...)
	cmd.Stdout = newProcessLogWriter(sv.log, sess.ID, "stdout")
	cmd.Stderr = newProcessLogWriter(sv.log, sess.ID, "stderr")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn transcoder: %w", err)
	}

	sv.log.Info("transcoder started",
		slog.String("session_id", sess.ID),
		slog.String("input", input),
		slog.Int("pid", cmd.Process.Pid),
	)

	proc := &process{cmd: cmd, done: make(chan struct{})}
	sv.mu.Lock()
	sv.procs[sess.ID] = proc
	sv.mu.Unlock()

	go sv.reap(sess, proc)
	go sv.monitor(sess, proc, playlistPath)

	return nil
}

// monitor drives readiness detection for a freshly spawned process and
// kills it if it never produces a playlist.
func (sv *Supervisor) monitor(sess *Session, proc *process, playlistPath string) {
	err := sv.awaitPlaylist(sess, proc, playlistPath)
	if err == nil {
		return
	}
	sess.fail(err)
	sv.kill(sess.ID)
	if sv.onStartFailed != nil {
		sv.onStartFailed(sess, err)
	}
	sv.log.Warn("transcoder never became ready",
		slog.String("session_id", sess.ID),
		slog.String("error", err.Error()))
}

// awaitPlaylist polls for the playlist file, the transcoder's only
// observable readiness signal, and performs the Starting -> Ready
// transition on the first hit.
func (sv *Supervisor) awaitPlaylist(sess *Session, proc *process, playlistPath string) error {
	deadline := time.NewTimer(sv.cfg.StartTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(readyPollInterval)
	defer tick.Stop()

	for {
		if _, err := os.Stat(playlistPath); err == nil {
			if !sess.transition(StateStarting, StateReady) {
				return fmt.Errorf("session %s torn down during start", sess.ID)
			}
			sv.log.Info("transcoder ready", slog.String("session_id", sess.ID))
			return nil
		}

		select {
		case <-tick.C:
		case <-proc.done:
			return fmt.Errorf("transcoder exited before producing a playlist")
		case <-deadline.C:
			return ErrStartTimeout
		}
	}
}

// reap waits for the process to end and fires the exit callback. This is
// the single place a session's process handle is retired.
func (sv *Supervisor) reap(sess *Session, proc *process) {
	err := proc.cmd.Wait()
	close(proc.done)

	sv.mu.Lock()
	delete(sv.procs, sess.ID)
	sv.mu.Unlock()

	if err != nil {
		sv.log.Info("transcoder exited",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	} else {
		sv.log.Info("transcoder exited", slog.String("session_id", sess.ID))
	}

	if sv.onExit != nil {
		sv.onExit(sess)
	}
}

// Stop sends a graceful termination signal to sess's process. It does not
// wait for the exit; the reap goroutine handles the final transition.
// Stopping an unknown or already-dead process is a no-op.
func (sv *Supervisor) Stop(sess *Session) {
	sv.mu.Lock()
	proc, ok := sv.procs[sess.ID]
	sv.mu.Unlock()
	if !ok {
		return
	}
	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		sv.log.Debug("terminate signal failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()))
	}
}

// kill forcibly ends a process that never became ready.
func (sv *Supervisor) kill(sessionID string) {
	sv.mu.Lock()
	proc, ok := sv.procs[sessionID]
	sv.mu.Unlock()
	if !ok {
		return
	}
	_ = proc.cmd.Process.Kill()
}

// Running reports whether a process is currently alive for the session id.
func (sv *Supervisor) Running(sessionID string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	_, ok := sv.procs[sessionID]
	return ok
}

// processLogWriter splits transcoder output into lines and forwards them to
// the structured logger at debug level.
type processLogWriter struct {
	log       *slog.Logger
	sessionID string
	stream    string
	buf       bytes.Buffer
}

func newProcessLogWriter(log *slog.Logger, sessionID, stream string) *processLogWriter {
	return &processLogWriter{log: log, sessionID: sessionID, stream: stream}
}

func (w *processLogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line stays buffered for the next write.
			w.buf.WriteString(line)
			break
		}
		if trimmed := bytes.TrimSpace([]byte(line)); len(trimmed) > 0 {
			w.log.Debug("transcoder output",
				slog.String("session_id", w.sessionID),
				slog.String("stream", w.stream),
				slog.String("line", string(trimmed)),
			)
		}
	}
	return len(p), nil
}
