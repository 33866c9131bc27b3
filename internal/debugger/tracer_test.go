package debugger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/GriffinCanCode/rhost/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(uuid.New(), session.Options{Launcher: worker.Embedded(worker.Options{WorkingDirectory: t.TempDir()})})
	require.NoError(t, s.Start(context.Background(), session.StartupInfo{Name: "debug"}, 5*time.Second))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func attach(t *testing.T, s *session.Session, store Store) *Tracer {
	t.Helper()
	tr, err := Attach(context.Background(), s, Options{Store: store})
	require.NoError(t, err)
	return tr
}

func interact(t *testing.T, s *session.Session, text string) *session.Interaction {
	t.Helper()
	res, err := s.Interact(context.Background(), text)
	require.NoError(t, err)
	return res
}

func waitState(t *testing.T, tr *Tracer, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.State() == want }, 5*time.Second, 5*time.Millisecond,
		"tracer state %s, want %s", tr.State(), want)
}

func valueText(t *testing.T, r inspect.Result) string {
	t.Helper()
	v, ok := r.(*inspect.Value)
	require.True(t, ok, "expected a value, got %T", r)
	return v.ValueText
}

func TestBreakpointStopThenContinue(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	interact(t, s, "function double(x) { return x * 2 }")

	tr := attach(t, s, nil)
	events := make(chan BrowseEvent, 4)
	tr.OnBrowse(func(e BrowseEvent) { events <- e })

	bp, err := tr.SetBreakpoint(ctx, Location{Function: "double"})
	require.NoError(t, err)
	assert.True(t, bp.Verified)

	res := interact(t, s, "double(21)")
	assert.True(t, res.Browsing)
	waitState(t, tr, Stopped)

	ev := <-events
	assert.Equal(t, transport.ReasonBreakpoint, ev.Reason)
	assert.Equal(t, "double", ev.Breakpoint)

	frames := tr.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, "double", frames[0].FunctionName)
	assert.Equal(t, "double(21)", frames[0].Call)
	assert.Equal(t, "<global>", frames[1].FunctionName)

	x, err := frames[0].Describe(ctx, "x", inspect.AllProperties)
	require.NoError(t, err)
	assert.Equal(t, "21", valueText(t, x))

	vars, err := frames[0].Variables(ctx)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "x", vars[0].Name())

	done, err := tr.Continue(ctx)
	require.NoError(t, err)
	assert.False(t, done.Browsing)
	assert.Equal(t, "[1] 42\n", done.Output)
	assert.Equal(t, Running, tr.State())
	assert.Empty(t, tr.Frames())

	_, err = frames[0].Describe(ctx, "x", inspect.AllProperties)
	assert.ErrorIs(t, err, ErrFrameInvalidated)
}

func TestStepIntoCapturesFreshFrames(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	interact(t, s, "function inner(v) { return v + 1 }\nfunction outer(v) { browser(); return inner(v) * 2 }")
	tr := attach(t, s, nil)

	interact(t, s, "outer(1)")
	waitState(t, tr, Stopped)
	first := tr.Frames()
	require.Len(t, first, 2)
	assert.Equal(t, "outer", first[0].FunctionName)

	res, err := tr.StepInto(ctx)
	require.NoError(t, err)
	assert.True(t, res.Browsing)
	assert.Equal(t, Stopped, tr.State())

	second := tr.Frames()
	require.Len(t, second, 3)
	assert.Equal(t, "inner", second[0].FunctionName)
	assert.False(t, first[0].Valid())
	assert.True(t, second[0].Valid())

	v, err := second[1].Describe(ctx, "v", inspect.AllProperties)
	require.NoError(t, err)
	assert.Equal(t, "1", valueText(t, v))

	res, err = tr.StepOut(ctx)
	require.NoError(t, err)
	assert.True(t, res.Browsing)
	require.Len(t, tr.Frames(), 2)
	assert.Equal(t, "outer", tr.Frames()[0].FunctionName)

	res, err = tr.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[1] 4\n", res.Output)
}

func TestStepRequiresStop(t *testing.T) {
	s := startSession(t)
	tr := attach(t, s, nil)

	for _, step := range []func(context.Context) (*session.Interaction, error){tr.StepInto, tr.StepOver, tr.StepOut, tr.Continue} {
		_, err := step(context.Background())
		assert.ErrorIs(t, err, ErrNotStopped)
	}
}

func TestCancelledStepKeepsStop(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	interact(t, s, "function double(x) { return x * 2 }")
	tr := attach(t, s, nil)

	_, err := tr.SetBreakpoint(ctx, Location{Function: "double"})
	require.NoError(t, err)
	res := interact(t, s, "double(21)")
	require.True(t, res.Browsing)
	waitState(t, tr, Stopped)
	frames := tr.Frames()
	require.Len(t, frames, 2)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tr.StepOver(cancelled)
	assert.ErrorIs(t, err, session.ErrCancelled)

	assert.Equal(t, Stopped, tr.State())
	assert.Len(t, tr.Frames(), 2)
	x, err := frames[0].Describe(ctx, "x", inspect.AllProperties)
	require.NoError(t, err)
	assert.Equal(t, "21", valueText(t, x))

	done, err := tr.Continue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "[1] 42\n", done.Output)
	assert.Equal(t, Running, tr.State())
}

func TestBreakStopsRunningCode(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	interact(t, s, "function tick(k) { return k }")
	tr := attach(t, s, nil)

	result := make(chan *session.Interaction, 1)
	go func() {
		res, err := s.Interact(ctx, "for (var k = 0; k < 1e9; k++) tick(k)")
		if err == nil {
			result <- res
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Break(ctx))
	waitState(t, tr, Stopped)
	assert.Equal(t, "tick", tr.Frames()[0].FunctionName)

	res := <-result
	assert.True(t, res.Browsing)

	res = interact(t, s, "Q")
	assert.False(t, res.Browsing)
	waitState(t, tr, Running)
}

func TestBreakpointsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	tr := attach(t, s, nil)

	a, err := tr.SetBreakpoint(ctx, Location{Function: "f"})
	require.NoError(t, err)
	b, err := tr.SetBreakpoint(ctx, Location{Function: "f"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	fileBP, err := tr.SetBreakpoint(ctx, Location{File: "analysis.R", Line: 12})
	require.NoError(t, err)
	assert.False(t, fileBP.Verified)
	assert.Len(t, tr.Breakpoints(), 2)

	require.NoError(t, tr.ClearBreakpoint(ctx, Location{Function: "f"}))
	require.NoError(t, tr.ClearBreakpoint(ctx, Location{Function: "f"}))
	require.NoError(t, tr.ClearBreakpoint(ctx, Location{Function: "never"}))
	assert.Len(t, tr.Breakpoints(), 1)

	_, err = tr.SetBreakpoint(ctx, Location{})
	assert.Error(t, err)
}

func TestBreakpointsListedInCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	tr := attach(t, s, nil)

	var want []string
	for c := 'z'; c >= 'a'; c-- {
		name := "fn_" + string(c)
		_, err := tr.SetBreakpoint(ctx, Location{Function: name})
		require.NoError(t, err)
		want = append(want, name)
	}

	var got []string
	for _, bp := range tr.Breakpoints() {
		got = append(got, bp.Location.Function)
	}
	assert.Equal(t, want, got)
}

func TestBreakpointsSurviveReattach(t *testing.T) {
	ctx := context.Background()
	s := startSession(t)
	path := filepath.Join(t.TempDir(), "state", "breakpoints.yaml")
	store := NewFileStore(path)

	tr := attach(t, s, store)
	_, err := tr.SetBreakpoint(ctx, Location{Function: "double"})
	require.NoError(t, err)
	require.NoError(t, tr.Detach(ctx))
	assert.Equal(t, Detached, tr.State())
	assert.Empty(t, tr.Breakpoints())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "function: double")

	tr = attach(t, s, NewFileStore(path))
	require.Len(t, tr.Breakpoints(), 1)
	assert.Equal(t, "double", tr.Breakpoints()[0].Location.Function)

	interact(t, s, "function double(x) { return x * 2 }")
	res := interact(t, s, "double(2)")
	assert.True(t, res.Browsing)
	waitState(t, tr, Stopped)
}

func TestDisconnectDetaches(t *testing.T) {
	s := startSession(t)
	tr := attach(t, s, nil)

	require.NoError(t, s.Stop(context.Background()))
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tracer did not detach")
	}
	assert.Equal(t, Detached, tr.State())

	_, err := tr.SetBreakpoint(context.Background(), Location{Function: "f"})
	assert.ErrorIs(t, err, ErrDetached)
	assert.NoError(t, tr.Detach(context.Background()))
}

func TestMemoryStoreCopies(t *testing.T) {
	store := NewMemoryStore()
	locs := []Location{{Function: "a"}}
	require.NoError(t, store.Save(locs))
	locs[0].Function = "changed"

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []Location{{Function: "a"}}, got)
}

func TestFileStoreMissingFile(t *testing.T) {
	got, err := NewFileStore(filepath.Join(t.TempDir(), "none.yaml")).Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}
