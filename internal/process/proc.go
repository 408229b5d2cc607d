package process

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ExitResult describes how a child ended. Signal is empty when the
// process exited on its own; PID is zero when the child never started.
type ExitResult struct {
	PID           int
	Code          int
	Signal        string
	Err           error
	StopRequested bool
}

// Proc owns one OS child process. The Proc record is a stable slot: a
// restart replaces the underlying exec.Cmd in place, never the Proc
// itself, so references held by the supervisor stay valid across
// restarts. A replaced handle is never signaled again.
type Proc struct {
	mu        sync.Mutex
	name      string
	cmd       *exec.Cmd
	stdout    io.Writer
	stderr    io.Writer
	closers   []io.Closer
	stopping  bool
	running   bool
	startedAt time.Time
	waitDone  chan struct{}
}

// New creates a process slot for the named item. Child stdout/stderr
// are re-emitted on the given writers with a "[name] " line prefix.
func New(name string, stdout, stderr io.Writer) *Proc {
	return &Proc{name: name, stdout: stdout, stderr: stderr}
}

func (p *Proc) Name() string { return p.name }

// Start tokenizes fullCmd and spawns it in its own process group with
// inherited stdin. onExit runs in a monitor goroutine once the child is
// reaped; a start failure is reported as an error and produces no
// monitor, the caller synthesizes the exit event.
func (p *Proc) Start(fullCmd string, capture []io.WriteCloser, onExit func(ExitResult)) error {
	argv, err := SplitCommand(fullCmd)
	if err != nil {
		return err
	}
	// ok: intentional execution of operator-configured commands
	// #nosec G204
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	outW := NewPrefixWriter(p.stdout, p.name)
	errW := NewPrefixWriter(p.stderr, p.name)
	if len(capture) >= 1 && capture[0] != nil {
		cmd.Stdout = io.MultiWriter(outW, capture[0])
	} else {
		cmd.Stdout = outW
	}
	if len(capture) >= 2 && capture[1] != nil {
		cmd.Stderr = io.MultiWriter(errW, capture[1])
	} else {
		cmd.Stderr = errW
	}
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.running = true
	p.stopping = false
	p.startedAt = time.Now()
	p.waitDone = make(chan struct{})
	for _, c := range capture {
		if c != nil {
			p.closers = append(p.closers, c)
		}
	}
	wd := p.waitDone
	p.mu.Unlock()

	go p.monitor(cmd, outW, errW, wd, onExit)
	return nil
}

func (p *Proc) monitor(cmd *exec.Cmd, outW, errW io.Writer, wd chan struct{}, onExit func(ExitResult)) {
	err := cmd.Wait()
	code, sig := exitStatus(err)

	if f, ok := outW.(*prefixWriter); ok {
		f.Flush()
	}
	if f, ok := errW.(*prefixWriter); ok {
		f.Flush()
	}

	p.mu.Lock()
	res := ExitResult{PID: cmd.Process.Pid, Code: code, Signal: sig, Err: err, StopRequested: p.stopping}
	p.running = false
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	close(wd)
	if onExit != nil {
		onExit(res)
	}
}

// PID returns the current child's PID, or 0 when not running.
func (p *Proc) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Proc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Proc) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// SetStopRequested marks operator-intended shutdown. It must be set
// before the termination signal is sent so the exit event observes it.
func (p *Proc) SetStopRequested() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
}

// WaitDone returns a channel closed once the current run is reaped.
// Nil when the process never started.
func (p *Proc) WaitDone() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// Terminate sends the graceful termination signal to the child's
// process group.
func (p *Proc) Terminate() {
	p.mu.Lock()
	cmd := p.cmd
	running := p.running
	p.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	terminateGroup(cmd.Process.Pid)
}

// Kill force-terminates the child's process group.
func (p *Proc) Kill() {
	p.mu.Lock()
	cmd := p.cmd
	running := p.running
	p.mu.Unlock()
	if !running || cmd == nil || cmd.Process == nil {
		return
	}
	killGroup(cmd.Process.Pid)
}
