// Package sidecar supervises the map server process that serves the
// workspace tile archives.
package sidecar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"unicode/utf8"

	"github.com/mohammed-shakir/shapetiles/internal/apperr"
	"github.com/mohammed-shakir/shapetiles/internal/core/observability"
)

// maxLine caps a relayed line; the rest of a longer line is dropped.
const maxLine = 64 << 10

type Config struct {
	Binary string
	Addr   string
	Dir    string // directory of .mbtiles files to serve
}

type commandFunc func(name string, args ...string) *exec.Cmd

// Supervisor owns at most one running sidecar. It relays output to the
// logger and records exit; it never restarts the process.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	command commandFunc

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

func New(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = "martin"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{cfg: cfg, logger: logger, command: exec.Command}
}

func (s *Supervisor) Args() []string {
	return []string{"--listen-addresses", s.cfg.Addr, s.cfg.Dir}
}

func (s *Supervisor) Addr() string { return s.cfg.Addr }

// Start spawns the sidecar unless one is already running. The process is not
// bound to ctx; it lives until Stop or its own exit.
func (s *Supervisor) Start(ctx context.Context) error {
	const op = "start map server"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		s.logger.DebugContext(ctx, "map server already running", "pid", s.cmd.Process.Pid)
		return nil
	}
	if !utf8.ValidString(s.cfg.Dir) {
		return apperr.Newf(apperr.KindPathEncoding, op, strconv.Quote(s.cfg.Dir), "path is not valid UTF-8")
	}

	cmd := s.command(s.cfg.Binary, s.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return apperr.New(apperr.KindServerSpawnFailed, op, s.cfg.Binary, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.New(apperr.KindServerSpawnFailed, op, s.cfg.Binary, err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return apperr.New(apperr.KindToolNotAvailable, op, s.cfg.Binary, err)
		}
		return apperr.New(apperr.KindServerSpawnFailed, op, s.cfg.Binary, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	s.exitErr = nil
	observability.SetSidecarRunning(true)
	s.logger.InfoContext(ctx, "map server started",
		"pid", cmd.Process.Pid, "addr", s.cfg.Addr, "dir", s.cfg.Dir)

	var relays sync.WaitGroup
	relays.Add(2)
	go s.relay(&relays, stdout, "stdout")
	go s.relay(&relays, stderr, "stderr")
	go s.wait(cmd, &relays, s.done)
	return nil
}

func (s *Supervisor) relay(wg *sync.WaitGroup, r io.Reader, stream string) {
	defer wg.Done()
	msg := "map server " + stream
	br := bufio.NewReaderSize(r, 16<<10)
	line := make([]byte, 0, 4<<10)
	truncated := false
	for {
		chunk, more, err := br.ReadLine()
		if room := maxLine - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)
		if err != nil {
			if len(line) > 0 {
				s.logLine(msg, stream, line, truncated)
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
				s.logger.Error(msg, "err", err)
			}
			return
		}
		// keep reading past the cap so the child never blocks on a full pipe
		if more {
			continue
		}
		s.logLine(msg, stream, line, truncated)
		line, truncated = line[:0], false
	}
}

func (s *Supervisor) logLine(msg, stream string, line []byte, truncated bool) {
	observability.IncSidecarLine(stream)
	attrs := make([]any, 0, 4)
	if truncated {
		attrs = append(attrs, "truncated", true)
	}
	if !utf8.Valid(line) {
		s.logger.Error(msg, append(attrs, "raw", fmt.Sprintf("%q", line), "err", "invalid utf-8")...)
		return
	}
	s.logger.Info(msg, append(attrs, "line", string(line))...)
}

// wait reaps the process once both relays have drained their pipes.
func (s *Supervisor) wait(cmd *exec.Cmd, relays *sync.WaitGroup, done chan struct{}) {
	relays.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	close(done)

	observability.SetSidecarRunning(false)
	if err != nil {
		s.logger.Warn("map server exited", "pid", cmd.Process.Pid, "err", err)
		return
	}
	s.logger.Info("map server exited", "pid", cmd.Process.Pid)
}

func (s *Supervisor) runningLocked() bool {
	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

// PID of the running sidecar, 0 when none.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed when the current process exits. Nil before the first Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ExitErr is the Wait result of the last process that exited.
func (s *Supervisor) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

// Stop asks the sidecar to terminate and kills it if ctx ends first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.runningLocked() {
		s.mu.Unlock()
		return nil
	}
	proc, done := s.cmd.Process, s.done
	s.mu.Unlock()

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// windows has no SIGTERM
		_ = proc.Kill()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = proc.Kill()
		<-done
		return fmt.Errorf("stop map server: %w", ctx.Err())
	}
}
