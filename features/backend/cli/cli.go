// Package cli provides a backend.Opener that drives an agent command-line
// binary in streaming mode. The binary is expected to print one JSON event
// per stdout line using the relay wire schema; malformed or unknown lines are
// skipped, never fatal, so protocol additions by newer binaries degrade
// gracefully.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/chatrelay/relay/runtime/backend"
)

type (
	// Options configures the CLI backend.
	Options struct {
		// Command is the agent binary. Required.
		Command string
		// Args precede the session and prompt arguments on the command line.
		Args []string
		// ResumeFlag names the flag carrying the session id when resuming.
		// Defaults to "--resume".
		ResumeFlag string
	}

	// Opener implements backend.Opener by spawning the agent binary per run.
	Opener struct {
		command    string
		args       []string
		resumeFlag string
	}
)

// maxLineSize bounds a single stdout event line (1 MiB). Full-utterance text
// deltas grow with the response, so the default scanner limit is too small.
const maxLineSize = 1 << 20

// New validates opts and constructs an Opener.
func New(opts Options) (*Opener, error) {
	if opts.Command == "" {
		return nil, errors.New("agent command is required")
	}
	resumeFlag := opts.ResumeFlag
	if resumeFlag == "" {
		resumeFlag = "--resume"
	}
	return &Opener{command: opts.Command, args: opts.Args, resumeFlag: resumeFlag}, nil
}

// Open spawns the agent binary for one run. The prompt is the final
// argument; an existing session is resumed via the resume flag.
func (o *Opener) Open(ctx context.Context, req backend.Request) (backend.Streamer, error) {
	args := append([]string(nil), o.args...)
	if req.SessionID != "" {
		args = append(args, o.resumeFlag, req.SessionID)
	}
	args = append(args, req.Prompt)

	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, o.command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start agent: %w", err)
	}

	s := &streamer{
		cancel: cancel,
		cmd:    cmd,
		events: make(chan backend.Event, 32),
	}
	go s.run(cctx, stdout)
	return s, nil
}

// streamer reads stdout lines from the agent process and decodes them into
// canonical events.
type streamer struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	events chan backend.Event

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

// Recv implements backend.Streamer.
func (s *streamer) Recv() (backend.Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	if err := s.err(); err != nil {
		return backend.Event{}, err
	}
	return backend.Event{}, io.EOF
}

// Close terminates the agent process. Recv returns promptly afterwards.
func (s *streamer) Close() error {
	s.cancel()
	return nil
}

func (s *streamer) run(ctx context.Context, stdout io.Reader) {
	defer close(s.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		ev, ok := backend.Decode(scanner.Bytes())
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.setErr(ctx.Err())
			_ = s.cmd.Wait()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.setErr(fmt.Errorf("read agent stdout: %w", err))
		_ = s.cmd.Wait()
		return
	}
	if err := s.cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			s.setErr(ctx.Err())
			return
		}
		s.setErr(fmt.Errorf("agent exited: %w", err))
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}
