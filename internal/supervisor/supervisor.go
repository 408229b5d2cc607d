package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/zerrdev/easycli/internal/logger"
	"github.com/zerrdev/easycli/internal/metrics"
	"github.com/zerrdev/easycli/internal/process"
	"github.com/zerrdev/easycli/pkg/template"
)

// Supervision defaults. RestartDelay throttles restart storms; the
// crash loop window and limit implement the sliding-window cap.
const (
	DefaultRestartDelay = 1 * time.Second
	DefaultKillGrace    = 5 * time.Second
	CrashLoopWindow     = 10 * time.Second
	CrashLoopLimit      = 3
)

// GroupSpec is the resolved description of one group as supplied by the
// configuration layer. The supervisor re-derives each item's command
// line from these fields on every spawn and restart, so expansion is
// never cached.
type GroupSpec struct {
	Name     string
	Tool     string
	Template string
	Params   map[string]string
	Items    []template.Item
	Policy   process.RestartPolicy
	Log      logger.Config
}

// ProcStatus is a point-in-time view of one managed process.
type ProcStatus struct {
	Group     string
	Item      template.Item
	PID       int
	State     process.State
	Restarts  int
	StartedAt time.Time
	FullCmd   string
}

// SpawnInfo is delivered to the OnSpawn hook after a successful spawn
// or restart.
type SpawnInfo struct {
	Group     string
	Item      template.Item
	PID       int
	StartedAt time.Time
	Policy    process.RestartPolicy
	FullCmd   string
	Restart   bool
}

// ExitInfo is delivered to the OnExit hook for every observed exit,
// including exits of processes whose group was already killed.
type ExitInfo struct {
	Group         string
	ItemName      string
	PID           int
	Code          int
	Signal        string
	StopRequested bool
	WillRestart   bool
	CrashLoop     bool
}

// Options configures a Supervisor. Zero values pick defaults.
type Options struct {
	Stdout       io.Writer
	Stderr       io.Writer
	Logger       *slog.Logger
	RestartDelay time.Duration
	KillGrace    time.Duration
	OnSpawn      func(SpawnInfo)
	OnExit       func(ExitInfo)
}

// managed is the stable record for one supervised item. Its identity
// (item, policy) never changes across restarts; only the process handle
// inside proc is replaced.
type managed struct {
	item     template.Item
	policy   process.RestartPolicy
	proc     *process.Proc
	state    process.State
	restarts int
	fullCmd  string
}

type group struct {
	spec   GroupSpec
	procs  []*managed
	index  map[string]*managed
	timers map[string]*time.Timer
	killed bool
}

type restartKey struct {
	group string
	item  string
}

// exitEvent carries the owning group record, not just its name: a group
// can be killed and respawned under the same name while an exit is in
// flight, and a stale event must never be attributed to the new group.
type exitEvent struct {
	g     *group
	group string
	item  string
	res   process.ExitResult
}

// Supervisor owns the set of live process groups. The tracking table is
// mutex guarded; all exit events funnel through one control loop so
// restart decisions are serialized.
type Supervisor struct {
	mu           sync.Mutex
	groups       map[string]*group
	restartTimes map[restartKey][]time.Time

	stdout       io.Writer
	stderr       io.Writer
	log          *slog.Logger
	restartDelay time.Duration
	killGrace    time.Duration
	onSpawn      func(SpawnInfo)
	onExit       func(ExitInfo)

	events chan exitEvent
	quit   chan struct{}
	once   sync.Once
}

// New creates a Supervisor and starts its control loop.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		groups:       make(map[string]*group),
		restartTimes: make(map[restartKey][]time.Time),
		stdout:       opts.Stdout,
		stderr:       opts.Stderr,
		log:          opts.Logger,
		restartDelay: opts.RestartDelay,
		killGrace:    opts.KillGrace,
		onSpawn:      opts.OnSpawn,
		onExit:       opts.OnExit,
		events:       make(chan exitEvent, 64),
		quit:         make(chan struct{}),
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.restartDelay <= 0 {
		s.restartDelay = DefaultRestartDelay
	}
	if s.killGrace <= 0 {
		s.killGrace = DefaultKillGrace
	}
	go s.loop()
	return s
}

// Close stops the control loop. Tracked processes are not touched; call
// KillAll first for a clean shutdown.
func (s *Supervisor) Close() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Supervisor) loop() {
	for {
		select {
		case ev := <-s.events:
			s.handleExit(ev)
		case <-s.quit:
			return
		}
	}
}

// send delivers an exit event unless the supervisor is closed. Without
// the quit case a monitor goroutine of a still-live child would block
// forever once the buffer fills after Close.
func (s *Supervisor) send(ev exitEvent) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// SpawnGroup spawns one process per item. It fails fast when the group
// name is already tracked and leaves the existing group untouched.
// Sibling spawns carry no ordering guarantee; a spawn failure enters the
// same exit/restart path as a runtime crash.
func (s *Supervisor) SpawnGroup(spec GroupSpec) error {
	policy, err := process.ParseRestartPolicy(string(spec.Policy))
	if err != nil {
		return err
	}
	spec.Policy = policy

	s.mu.Lock()
	if _, ok := s.groups[spec.Name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("group %q is already running", spec.Name)
	}
	g := &group{
		spec:   spec,
		index:  make(map[string]*managed),
		timers: make(map[string]*time.Timer),
	}
	for _, it := range spec.Items {
		m := &managed{
			item:   it,
			policy: spec.Policy,
			proc:   process.New(it.Name, s.stdout, s.stderr),
			state:  process.StateStopped,
		}
		g.procs = append(g.procs, m)
		g.index[it.Name] = m
	}
	s.groups[spec.Name] = g
	s.mu.Unlock()

	for _, m := range g.procs {
		s.spawnItem(g, m, false)
	}
	return nil
}

// spawnItem derives the command line for the managed item and starts
// it, replacing the process handle in place on restart. Start failures
// are synthesized into the exit event stream.
func (s *Supervisor) spawnItem(g *group, m *managed, restart bool) {
	cmd := template.ParseItem(g.spec.Tool, g.spec.Template, m.item, g.spec.Params)
	outC, errC, err := g.spec.Log.Writers(g.spec.Name + "." + m.item.Name)
	if err != nil {
		s.log.Warn("capture writers unavailable", "group", g.spec.Name, "item", m.item.Name, "err", err)
	}

	itemName := m.item.Name
	groupName := g.spec.Name
	// The monitor holds its exit event until spawn bookkeeping (and the
	// OnSpawn hook) has finished, so an instantly-exiting child cannot
	// have its exit observed before its spawn.
	ready := make(chan struct{})
	startErr := m.proc.Start(cmd.FullCmd, []io.WriteCloser{outC, errC}, func(res process.ExitResult) {
		<-ready
		s.send(exitEvent{g: g, group: groupName, item: itemName, res: res})
	})

	s.mu.Lock()
	m.fullCmd = cmd.FullCmd
	if startErr == nil {
		m.state = process.StateRunning
	}
	running := 0
	if cur, ok := s.groups[groupName]; ok && cur == g {
		running = g.runningCount()
	}
	s.mu.Unlock()

	if startErr != nil {
		s.log.Warn("spawn failed", "group", groupName, "item", itemName, "err", startErr)
		go func() {
			s.send(exitEvent{g: g, group: groupName, item: itemName, res: process.ExitResult{Code: -1, Err: startErr}})
		}()
		return
	}

	metrics.IncSpawn(groupName, itemName)
	metrics.SetRunning(groupName, running)
	if restart {
		metrics.IncRestart(groupName, itemName)
	}
	s.log.Info("spawned", "group", groupName, "item", itemName, "pid", m.proc.PID(), "cmd", cmd.FullCmd, "restart", restart)
	if s.onSpawn != nil {
		s.onSpawn(SpawnInfo{
			Group:     groupName,
			Item:      m.item,
			PID:       m.proc.PID(),
			StartedAt: m.proc.StartedAt(),
			Policy:    m.policy,
			FullCmd:   cmd.FullCmd,
			Restart:   restart,
		})
	}
	close(ready)
}

// handleExit runs on the control loop and applies the restart state
// machine: Running -> {RestartScheduled -> Running} | Stopped |
// CrashLoopHalted.
func (s *Supervisor) handleExit(ev exitEvent) {
	info := ExitInfo{
		Group:         ev.group,
		ItemName:      ev.item,
		PID:           ev.res.PID,
		Code:          ev.res.Code,
		Signal:        ev.res.Signal,
		StopRequested: ev.res.StopRequested,
	}

	s.mu.Lock()
	g := s.groups[ev.group]
	var m *managed
	if g != nil && g == ev.g {
		m = g.index[ev.item]
	}
	if m == nil {
		// The event's group was killed while the exit was in flight; any
		// group now tracked under the same name is a different group and
		// must not see the stale exit.
		s.mu.Unlock()
		metrics.IncExit(ev.group, ev.item)
		if s.onExit != nil {
			s.onExit(info)
		}
		return
	}

	m.state = process.StateStopped
	switch {
	case m.policy == process.RestartNever:
	case m.policy == process.RestartUnlessStopped && ev.res.StopRequested:
	default:
		key := restartKey{group: ev.group, item: ev.item}
		now := time.Now()
		window := append(s.restartTimes[key], now)
		kept := window[:0]
		for _, t := range window {
			if now.Sub(t) <= CrashLoopWindow {
				kept = append(kept, t)
			}
		}
		s.restartTimes[key] = kept
		if len(kept) > CrashLoopLimit {
			m.state = process.StateCrashLoopHalted
			info.CrashLoop = true
		} else {
			m.state = process.StateRestartScheduled
			info.WillRestart = true
			groupName, itemName := ev.group, ev.item
			g.timers[itemName] = time.AfterFunc(s.restartDelay, func() {
				s.restartItem(groupName, itemName)
			})
		}
	}
	metrics.SetRunning(ev.group, g.runningCount())
	s.mu.Unlock()

	metrics.IncExit(ev.group, ev.item)
	if info.CrashLoop {
		metrics.IncCrashLoopHalt(ev.group, ev.item)
		s.log.Error("crash loop detected, halting restarts",
			"group", ev.group, "item", ev.item,
			"limit", CrashLoopLimit, "window", CrashLoopWindow)
	} else {
		s.log.Info("process exited",
			"group", ev.group, "item", ev.item,
			"code", ev.res.Code, "signal", ev.res.Signal, "restart", info.WillRestart)
	}
	if s.onExit != nil {
		s.onExit(info)
	}
}

// restartItem fires from a restart timer. The group may have been
// killed in the meantime; a killed group must never resurrect a
// process, so tracking and state are re-checked first.
func (s *Supervisor) restartItem(groupName, itemName string) {
	s.mu.Lock()
	g := s.groups[groupName]
	if g == nil || g.killed {
		s.mu.Unlock()
		return
	}
	m := g.index[itemName]
	if m == nil || m.state != process.StateRestartScheduled {
		s.mu.Unlock()
		return
	}
	delete(g.timers, itemName)
	m.restarts++
	s.mu.Unlock()

	s.spawnItem(g, m, true)
}

// KillGroup removes the group from tracking, sends the graceful
// termination signal to every member synchronously, and returns a
// channel closed once every member has actually exited (force-killed
// after the grace period when needed). IsGroupRunning reflects the
// removal immediately.
func (s *Supervisor) KillGroup(name string) (<-chan struct{}, error) {
	s.mu.Lock()
	g, ok := s.groups[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown group %q", name)
	}
	g.killed = true
	delete(s.groups, name)
	for n, t := range g.timers {
		t.Stop()
		delete(g.timers, n)
	}
	for k := range s.restartTimes {
		if k.group == name {
			delete(s.restartTimes, k)
		}
	}
	procs := append([]*managed(nil), g.procs...)
	// Mark before signaling so the exit event sees operator intent.
	for _, m := range procs {
		m.proc.SetStopRequested()
		m.proc.Terminate()
	}
	s.mu.Unlock()

	metrics.SetRunning(name, 0)
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, m := range procs {
			if !m.proc.Running() {
				continue
			}
			wg.Add(1)
			go func(m *managed) {
				defer wg.Done()
				s.awaitDeath(name, m)
			}(m)
		}
		wg.Wait()
		close(done)
	}()
	return done, nil
}

// awaitDeath waits for a voluntary exit within the grace period, then
// escalates to SIGKILL.
func (s *Supervisor) awaitDeath(groupName string, m *managed) {
	wd := m.proc.WaitDone()
	if wd == nil {
		return
	}
	select {
	case <-wd:
	case <-time.After(s.killGrace):
		s.log.Warn("grace period expired, force killing", "group", groupName, "item", m.proc.Name())
		m.proc.Kill()
		select {
		case <-wd:
		case <-time.After(2 * time.Second):
			// best-effort
		}
	}
}

// KillAll kills every tracked group concurrently. The returned channel
// closes when every group's kill has completed; on an empty table it is
// closed already.
func (s *Supervisor) KillAll() <-chan struct{} {
	s.mu.Lock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, name := range names {
		gdone, err := s.KillGroup(name)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(ch <-chan struct{}) {
			defer wg.Done()
			<-ch
		}(gdone)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// IsGroupRunning reports supervisor intent: whether the group is still
// tracked, not whether its processes have finished dying.
func (s *Supervisor) IsGroupRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[name]
	return ok
}

// RunningGroups returns the tracked group names, sorted.
func (s *Supervisor) RunningGroups() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// GroupStatus returns a snapshot per item, in the group's item order.
func (s *Supervisor) GroupStatus(name string) ([]ProcStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", name)
	}
	res := make([]ProcStatus, 0, len(g.procs))
	for _, m := range g.procs {
		res = append(res, ProcStatus{
			Group:     name,
			Item:      m.item,
			PID:       m.proc.PID(),
			State:     m.state,
			Restarts:  m.restarts,
			StartedAt: m.proc.StartedAt(),
			FullCmd:   m.fullCmd,
		})
	}
	return res, nil
}

func (g *group) runningCount() int {
	n := 0
	for _, m := range g.procs {
		if m.state == process.StateRunning {
			n++
		}
	}
	return n
}
