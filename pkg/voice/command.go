package voice

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// Aborter is implemented by sinks that can stop playback immediately,
// dropping audio that was written but not yet played.
type Aborter interface {
	Abort() error
}

// Command is an external program that plays raw PCM from stdin or
// records raw PCM to stdout in Format.
type Command struct {
	Path   string
	Args   []string
	Format Format
}

// ParseCommand splits a command line on spaces. Quoting is not supported.
func ParseCommand(line string, f Format) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errors.New("voice: empty command")
	}
	return Command{Path: fields[0], Args: fields[1:], Format: f}, nil
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Sink starts the command and returns a writer accepting src PCM. Close
// waits for the command to play what was written; Abort kills it.
func (c Command) Sink(src Format) (io.WriteCloser, error) {
	cmd := exec.Command(c.Path, c.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("voice: start %s: %w", c.Path, err)
	}
	p := &process{cmd: cmd, pipe: stdin}
	if src == c.Format {
		return p, nil
	}
	conv, err := NewConverter(src, c.Format)
	if err != nil {
		p.Abort()
		return nil, err
	}
	return &abortWriter{convertWriter: convertWriter{conv: conv, w: p}, p: p}, nil
}

// Source starts the command and returns a reader yielding dst PCM. Close
// kills the command.
func (c Command) Source(dst Format) (io.ReadCloser, error) {
	cmd := exec.Command(c.Path, c.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("voice: start %s: %w", c.Path, err)
	}
	p := &process{cmd: cmd, pipe: stdout}
	p.kill.Store(true)
	r, err := NewReader(p, c.Format, dst)
	if err != nil {
		p.Close()
		return nil, err
	}
	return r, nil
}

// process owns a started command and one of its pipes.
type process struct {
	cmd  *exec.Cmd
	pipe io.Closer
	// kill makes Close terminate the command instead of waiting for it.
	kill atomic.Bool

	once sync.Once
	err  error
}

func (p *process) Write(b []byte) (int, error) {
	return p.pipe.(io.Writer).Write(b)
}

func (p *process) Read(b []byte) (int, error) {
	return p.pipe.(io.Reader).Read(b)
}

func (p *process) Close() error {
	p.once.Do(func() {
		kill := p.kill.Load()
		if kill && p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.pipe.Close()
		err := p.cmd.Wait()
		if !kill && err != nil {
			p.err = fmt.Errorf("voice: %s: %w", p.cmd.Path, err)
		}
	})
	return p.err
}

func (p *process) Abort() error {
	p.kill.Store(true)
	if err := p.Close(); err != nil {
		slog.Debug("voice: abort", "error", err)
	}
	return nil
}

type abortWriter struct {
	convertWriter
	p *process
}

func (w *abortWriter) Abort() error {
	return w.p.Abort()
}
