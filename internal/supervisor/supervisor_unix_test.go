//go:build !windows

package supervisor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/zerrdev/easycli/internal/process"
	"github.com/zerrdev/easycli/pkg/template"
)

func newTestSupervisor(t *testing.T, restartDelay time.Duration) *Supervisor {
	t.Helper()
	s := New(Options{
		Stdout:       io.Discard,
		Stderr:       io.Discard,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: restartDelay,
		KillGrace:    2 * time.Second,
	})
	t.Cleanup(func() {
		select {
		case <-s.KillAll():
		case <-time.After(10 * time.Second):
			t.Errorf("cleanup kill timed out")
		}
		s.Close()
	})
	return s
}

func groupOf(name string, policy process.RestartPolicy, cmds map[string]string) GroupSpec {
	items := make([]template.Item, 0, len(cmds))
	for n, c := range cmds {
		items = append(items, template.Item{Name: n, Value: c})
	}
	return GroupSpec{Name: name, Items: items, Policy: policy}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(t *testing.T, s *Supervisor, group, item string) ProcStatus {
	t.Helper()
	sts, err := s.GroupStatus(group)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, st := range sts {
		if st.Item.Name == item {
			return st
		}
	}
	t.Fatalf("item %s not found in group %s", item, group)
	return ProcStatus{}
}

func TestSpawnGroupDuplicateRejected(t *testing.T) {
	s := newTestSupervisor(t, 50*time.Millisecond)
	spec := groupOf("dup", process.RestartNever, map[string]string{"a": "sleep 30"})
	if err := s.SpawnGroup(spec); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	firstPID := statusOf(t, s, "dup", "a").PID
	if err := s.SpawnGroup(spec); err == nil {
		t.Fatalf("second spawn must fail")
	}
	// The first group's process is untouched.
	st := statusOf(t, s, "dup", "a")
	if st.PID != firstPID || st.State != process.StateRunning {
		t.Fatalf("first group disturbed: %+v", st)
	}
}

func TestRestartPolicyNever(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("once", process.RestartNever, map[string]string{"job": "true"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 3*time.Second, "process to stop", func() bool {
		return statusOf(t, s, "once", "job").State == process.StateStopped
	})
	// Tracking persists even though nothing is running.
	if !s.IsGroupRunning("once") {
		t.Fatalf("group must stay tracked after a never-policy exit")
	}
	time.Sleep(100 * time.Millisecond)
	if st := statusOf(t, s, "once", "job"); st.Restarts != 0 {
		t.Fatalf("never policy must not restart, got %d restarts", st.Restarts)
	}
}

func TestRestartPolicyAlways(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("loop", process.RestartAlways, map[string]string{"j": "sleep 30"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	first := statusOf(t, s, "loop", "j")
	if first.State != process.StateRunning {
		t.Fatalf("expected running, got %s", first.State)
	}
	// Kill from outside the supervisor; policy always restarts it.
	if err := syscall.Kill(first.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitFor(t, 5*time.Second, "restart", func() bool {
		st := statusOf(t, s, "loop", "j")
		return st.Restarts >= 1 && st.State == process.StateRunning
	})
}

func TestUnlessStoppedRestartsOnExternalKill(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("u", process.RestartUnlessStopped, map[string]string{"j": "sleep 30"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	first := statusOf(t, s, "u", "j")
	if err := syscall.Kill(first.PID, syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	waitFor(t, 5*time.Second, "restart after external kill", func() bool {
		return statusOf(t, s, "u", "j").Restarts >= 1
	})
}

func TestUnlessStoppedDoesNotRestartOnSupervisorKill(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("u2", process.RestartUnlessStopped, map[string]string{"j": "sleep 30"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	done, err := s.KillGroup("u2")
	if err != nil {
		t.Fatalf("kill group: %v", err)
	}
	if s.IsGroupRunning("u2") {
		t.Fatalf("group must leave tracking as soon as the kill starts")
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("kill did not complete")
	}
	// A pending restart must not resurrect the group.
	time.Sleep(200 * time.Millisecond)
	if s.IsGroupRunning("u2") {
		t.Fatalf("killed group came back")
	}
}

func TestRespawnAfterKillIgnoresStaleExit(t *testing.T) {
	// Kill a group and immediately respawn it under the same name: the
	// old children's exits are still in flight and must not be
	// attributed to the new group, or its live processes would get
	// phantom-restarted.
	s := newTestSupervisor(t, 20*time.Millisecond)
	spec := groupOf("re", process.RestartAlways, map[string]string{"j": "sleep 30"})
	if err := s.SpawnGroup(spec); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	origPID := statusOf(t, s, "re", "j").PID
	if _, err := s.KillGroup("re"); err != nil {
		t.Fatalf("kill group: %v", err)
	}
	if err := s.SpawnGroup(spec); err != nil {
		t.Fatalf("respawn: %v", err)
	}
	var newPID int
	waitFor(t, 5*time.Second, "replacement running", func() bool {
		st := statusOf(t, s, "re", "j")
		newPID = st.PID
		return st.State == process.StateRunning && newPID != origPID
	})
	// Give the old child's exit event time to arrive and be discarded.
	time.Sleep(500 * time.Millisecond)
	st := statusOf(t, s, "re", "j")
	if st.Restarts != 0 || st.State != process.StateRunning || st.PID != newPID {
		t.Fatalf("stale exit disturbed the respawned group: %+v", st)
	}
	if err := syscall.Kill(newPID, 0); err != nil {
		t.Fatalf("replacement child not alive: %v", err)
	}
}

func TestCrashLoopHaltsAfterLimit(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("cl", process.RestartAlways, map[string]string{"bad": "true"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 10*time.Second, "crash loop halt", func() bool {
		return statusOf(t, s, "cl", "bad").State == process.StateCrashLoopHalted
	})
	st := statusOf(t, s, "cl", "bad")
	if st.Restarts != CrashLoopLimit {
		t.Fatalf("expected exactly %d restarts before halt, got %d", CrashLoopLimit, st.Restarts)
	}
	// Halt is permanent.
	time.Sleep(200 * time.Millisecond)
	if st := statusOf(t, s, "cl", "bad"); st.State != process.StateCrashLoopHalted || st.Restarts != CrashLoopLimit {
		t.Fatalf("halt not permanent: %+v", st)
	}
}

func TestCrashLoopDoesNotAffectSiblings(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	spec := groupOf("mix", process.RestartAlways, map[string]string{
		"bad":  "true",
		"good": "sleep 30",
	})
	if err := s.SpawnGroup(spec); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 10*time.Second, "crash loop halt", func() bool {
		return statusOf(t, s, "mix", "bad").State == process.StateCrashLoopHalted
	})
	if st := statusOf(t, s, "mix", "good"); st.State != process.StateRunning {
		t.Fatalf("sibling disturbed by crash loop: %+v", st)
	}
}

func TestSpawnFailureEntersExitPath(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if err := s.SpawnGroup(groupOf("nf", process.RestartNever, map[string]string{"miss": "/no/such/binary"})); err != nil {
		t.Fatalf("spawn group itself must not fail: %v", err)
	}
	waitFor(t, 3*time.Second, "stopped state", func() bool {
		return statusOf(t, s, "nf", "miss").State == process.StateStopped
	})
	if !s.IsGroupRunning("nf") {
		t.Fatalf("group should stay tracked")
	}
}

func TestKillAllEmptyReturnsImmediately(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	select {
	case <-s.KillAll():
	case <-time.After(time.Second):
		t.Fatalf("KillAll on empty table must complete immediately")
	}
}

func TestKillGroupUnknown(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	if _, err := s.KillGroup("ghost"); err == nil {
		t.Fatalf("expected error for unknown group")
	}
}

func TestKillAllStopsEverything(t *testing.T) {
	s := newTestSupervisor(t, 20*time.Millisecond)
	for _, name := range []string{"g1", "g2"} {
		if err := s.SpawnGroup(groupOf(name, process.RestartAlways, map[string]string{"j": "sleep 30"})); err != nil {
			t.Fatalf("spawn %s: %v", name, err)
		}
	}
	select {
	case <-s.KillAll():
	case <-time.After(15 * time.Second):
		t.Fatalf("KillAll timed out")
	}
	if got := s.RunningGroups(); len(got) != 0 {
		t.Fatalf("groups still tracked: %v", got)
	}
}

func TestOutputPrefixing(t *testing.T) {
	var out bytes.Buffer
	done := make(chan struct{}, 1)
	s := New(Options{
		Stdout:       &out,
		Stderr:       io.Discard,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: 50 * time.Millisecond,
		OnExit:       func(ExitInfo) { done <- struct{}{} },
	})
	defer s.Close()
	if err := s.SpawnGroup(groupOf("echo", process.RestartNever, map[string]string{"it": "sh -c 'echo hello'"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("no exit observed")
	}
	if got := out.String(); got != "[it] hello\n" {
		t.Fatalf("prefixed output: got %q", got)
	}
}

func TestSpawnHookPrecedesExitHook(t *testing.T) {
	// Even a child that exits instantly must have its spawn observed
	// before its exit, so hook consumers (registry, history) see writes
	// land before deletes.
	var mu sync.Mutex
	var order []string
	s := New(Options{
		Stdout:       io.Discard,
		Stderr:       io.Discard,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: 20 * time.Millisecond,
		OnSpawn: func(SpawnInfo) {
			mu.Lock()
			order = append(order, "spawn")
			mu.Unlock()
		},
		OnExit: func(ExitInfo) {
			mu.Lock()
			order = append(order, "exit")
			mu.Unlock()
		},
	})
	defer s.Close()
	if err := s.SpawnGroup(groupOf("fast", process.RestartNever, map[string]string{"j": "true"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 5*time.Second, "both hooks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "spawn" || order[1] != "exit" {
		t.Fatalf("hook order: %v", order)
	}
}

func TestCloseUnblocksExitDelivery(t *testing.T) {
	// After Close nothing drains the event channel; monitors of
	// children exiting past the buffer capacity must still terminate.
	s := New(Options{
		Stdout:       io.Discard,
		Stderr:       io.Discard,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: 20 * time.Millisecond,
	})
	items := make(map[string]string, 70)
	for i := 0; i < 70; i++ {
		items[fmt.Sprintf("i%02d", i)] = "true"
	}
	base := runtime.NumGoroutine()
	s.Close()
	if err := s.SpawnGroup(groupOf("burst", process.RestartNever, items)); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitFor(t, 15*time.Second, "monitor goroutines to finish", func() bool {
		return runtime.NumGoroutine() <= base+4
	})
}

func TestHooksObserveSpawnAndExit(t *testing.T) {
	spawns := make(chan SpawnInfo, 8)
	exits := make(chan ExitInfo, 8)
	s := New(Options{
		Stdout:       io.Discard,
		Stderr:       io.Discard,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		RestartDelay: 20 * time.Millisecond,
		OnSpawn:      func(i SpawnInfo) { spawns <- i },
		OnExit:       func(i ExitInfo) { exits <- i },
	})
	defer s.Close()
	if err := s.SpawnGroup(groupOf("h", process.RestartNever, map[string]string{"j": "true"})); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	var spawnPID int
	select {
	case si := <-spawns:
		if si.Group != "h" || si.Item.Name != "j" || si.PID <= 0 {
			t.Fatalf("bad spawn info: %+v", si)
		}
		spawnPID = si.PID
	case <-time.After(3 * time.Second):
		t.Fatalf("no spawn hook")
	}
	select {
	case ei := <-exits:
		if ei.Group != "h" || ei.ItemName != "j" || ei.WillRestart {
			t.Fatalf("bad exit info: %+v", ei)
		}
		if ei.PID != spawnPID {
			t.Fatalf("exit pid %d does not match spawn pid %d", ei.PID, spawnPID)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no exit hook")
	}
}
