package worker

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t    *testing.T
	conn *transport.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, Options{WorkingDirectory: t.TempDir()})
}

func newHarnessWith(t *testing.T, opts Options) *harness {
	t.Helper()
	srv, err := NewServer(opts)
	require.NoError(t, err)

	host, worker := transport.Pipe()
	go srv.ServeChannel(worker)

	conn := transport.New(host, transport.Options{})
	t.Cleanup(func() {
		_ = conn.Close()
		srv.Close()
	})

	h := &harness{t: t, conn: conn}
	var started transport.StartResult
	h.call(transport.RequestStart, transport.StartParams{Name: "test"}, &started)
	assert.Equal(t, Version, started.Version)
	return h
}

func (h *harness) call(name string, params, out any) {
	h.t.Helper()
	require.NoError(h.t, h.try(name, params, out))
}

func (h *harness) try(name string, params, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := h.conn.Call(ctx, name, params)
	if err != nil {
		return err
	}
	if out != nil {
		return transport.Unmarshal(raw, out)
	}
	return nil
}

func (h *harness) interact(text string) transport.InteractResult {
	h.t.Helper()
	var res transport.InteractResult
	h.call(transport.RequestInteract, transport.InteractParams{Text: text}, &res)
	return res
}

func (h *harness) describe(expr string, frame *int) inspect.Description {
	h.t.Helper()
	var d inspect.Description
	h.call(transport.RequestEvaluate, transport.EvaluateParams{Expression: expr, Describe: true, Frame: frame}, &d)
	return d
}

// waitFor returns the next notification with the given name
func (h *harness) waitFor(name string) transport.Message {
	h.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-h.conn.Notifications():
			if msg.Name == name {
				return msg
			}
		case <-timeout:
			h.t.Fatalf("no %s notification", name)
		}
	}
}

func TestEvaluateDescribesNumbers(t *testing.T) {
	h := newHarness(t)

	d := h.describe("1+1", nil)
	assert.Equal(t, inspect.KindValue, d.Kind)
	assert.Equal(t, "numeric", d.Type)
	assert.Equal(t, "2", d.Repr)
	require.NotNil(t, d.Length)
	assert.Equal(t, 1, *d.Length)
	assert.Equal(t, []string{inspect.FlagNameAtomic}, d.Flags)
}

func TestDescribeShapes(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		expr    string
		typ     string
		repr    string
		classes []string
	}{
		{"true", "logical", "TRUE", []string{"logical"}},
		{"'a'", "character", `"a"`, []string{"character"}},
		{"null", "NULL", "NULL", []string{"NULL"}},
		{"[1, 2, 3]", "numeric", "c(1, 2, 3)", []string{"numeric"}},
		{"[1, 'a']", "list", "List of 2", []string{"list"}},
		{"({a: 1})", "list", "List of 1", []string{"list"}},
		{"(function(x) { return x })", "closure", "function(x) { return x }", []string{"function"}},
		{"0/0", "numeric", "NaN", []string{"numeric"}},
		{"environment()", "environment", "<environment>", []string{"environment"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			d := h.describe(tt.expr, nil)
			assert.Equal(t, tt.typ, d.Type)
			assert.Equal(t, tt.repr, d.Repr)
			assert.Equal(t, tt.classes, d.Classes)
		})
	}
}

func TestDescribeRespectsProperties(t *testing.T) {
	h := newHarness(t)

	var d inspect.Description
	h.call(transport.RequestEvaluate, transport.EvaluateParams{
		Expression: "[1, 2]",
		Describe:   true,
		Properties: inspect.TypeNameProperty.Fields(),
	}, &d)

	assert.Equal(t, "numeric", d.Type)
	assert.Nil(t, d.Length)
	assert.Empty(t, d.Classes)
	assert.Empty(t, d.Expression)
}

func TestAttributesOverrideClassAndDim(t *testing.T) {
	h := newHarness(t)
	h.interact("m = [1, 2, 3, 4]; attr(m, 'dim', [2, 2]); attr(m, 'class', 'matrix')")

	d := h.describe("m", nil)
	assert.Equal(t, []string{"matrix"}, d.Classes)
	assert.Equal(t, []int{2, 2}, d.Dim)
	require.NotNil(t, d.AttrCount)
	assert.Equal(t, 2, *d.AttrCount)

	attrs := h.describe("attributes(m)", nil)
	require.NotNil(t, attrs.NameCount)
	assert.Equal(t, 2, *attrs.NameCount)
}

func TestInteractPrintsAndRecoversFromErrors(t *testing.T) {
	h := newHarness(t)

	res := h.interact("stop('boom')")
	assert.Equal(t, "boom", res.Error)
	assert.Equal(t, promptTop, res.Prompt)
	assert.False(t, res.Browsing)

	res = h.interact("1+1")
	assert.Empty(t, res.Error)
	assert.Equal(t, "[1] 2\n", res.Output)

	res = h.interact("cat('a', 'b'); print([1, 2])")
	assert.Equal(t, "a b[1] 1 2\n", res.Output)
}

func TestEvaluateErrors(t *testing.T) {
	h := newHarness(t)

	d := h.describe("stop('bad')", nil)
	assert.Equal(t, inspect.KindError, d.Kind)
	assert.Equal(t, "bad", d.Error)

	var res transport.EvaluateResult
	h.call(transport.RequestEvaluate, transport.EvaluateParams{Expression: "undefinedThing"}, &res)
	assert.Contains(t, res.Error, "undefinedThing")

	h.call(transport.RequestEvaluate, transport.EvaluateParams{Expression: "({a: [1, 2]})"}, &res)
	assert.JSONEq(t, `{"a": [1, 2]}`, string(res.Value))
}

func TestChildrenAndSetValue(t *testing.T) {
	h := newHarness(t)
	h.interact("x = {a: 1, b: [1, 2], 'odd key': 'v'}")

	var kids []inspect.Description
	h.call(transport.RequestChildren, transport.ChildrenParams{Expression: "x"}, &kids)
	require.Len(t, kids, 3)
	assert.Equal(t, "a", kids[0].Name)
	assert.Equal(t, "x.a", kids[0].Expression)
	assert.Equal(t, "x.b", kids[1].Expression)
	assert.Equal(t, `x["odd key"]`, kids[2].Expression)

	h.call(transport.RequestChildren, transport.ChildrenParams{Expression: "x.b"}, &kids)
	require.Len(t, kids, 2)
	assert.Equal(t, "[1]", kids[1].Name)
	assert.Equal(t, "x.b[1]", kids[1].Expression)

	var d inspect.Description
	h.call(transport.RequestSetValue, transport.SetValueParams{Expression: "x.a", Value: "'changed'"}, &d)
	assert.Equal(t, `"changed"`, d.Repr)

	h.call(transport.RequestSetValue, transport.SetValueParams{Expression: "x.a", Value: "stop('no')"}, &d)
	assert.Equal(t, inspect.KindError, d.Kind)
	assert.Equal(t, "no", d.Error)
}

func TestEnvironmentChildrenReportPromisesAndBindings(t *testing.T) {
	h := newHarness(t)
	h.interact("delayedAssign('lazy', '40 + 2'); makeActiveBinding('live', function() { return 7 }); plain = 1")

	var kids []inspect.Description
	h.call(transport.RequestChildren, transport.ChildrenParams{Expression: "environment()"}, &kids)

	byName := map[string]inspect.Description{}
	for _, k := range kids {
		byName[k.Name] = k
	}
	require.Contains(t, byName, "lazy")
	assert.Equal(t, inspect.KindPromise, byName["lazy"].Kind)
	assert.Equal(t, "40 + 2", byName["lazy"].Code)
	assert.Equal(t, inspect.KindActiveBinding, byName["live"].Kind)
	assert.Equal(t, inspect.KindValue, byName["plain"].Kind)
	assert.NotContains(t, byName, "mean")

	assert.Equal(t, "42", h.describe("lazy", nil).Repr)

	h.call(transport.RequestChildren, transport.ChildrenParams{Expression: "environment()"}, &kids)
	for _, k := range kids {
		if k.Name == "lazy" {
			assert.Equal(t, inspect.KindValue, k.Kind)
		}
	}
}

func TestBreakpointStopsAndContinues(t *testing.T) {
	h := newHarness(t)
	h.interact("function double(x) { return x * 2 }")

	h.call(transport.RequestTrace, transport.TraceParams{Enabled: true}, nil)
	var bp transport.BreakpointResult
	h.call(transport.RequestSetBreakpoint, transport.BreakpointParams{Function: "double", Enabled: true}, &bp)
	assert.True(t, bp.Verified)

	res := h.interact("double(21)")
	assert.True(t, res.Browsing)
	assert.Equal(t, "Browse[1]> ", res.Prompt)

	msg := h.waitFor(transport.NotifyStopped)
	var stopped transport.StoppedParams
	require.NoError(t, transport.Unmarshal(msg.Params, &stopped))
	assert.Equal(t, transport.ReasonBreakpoint, stopped.Reason)
	require.Len(t, stopped.Frames, 2)
	assert.Equal(t, "double", stopped.Frames[0].Function)
	assert.Equal(t, "double(21)", stopped.Frames[0].Call)
	assert.Equal(t, globalFrame, stopped.Frames[1].Function)

	assert.Equal(t, "21", h.describe("x", transport.IntPtr(0)).Repr)

	res = h.interact("x * 10")
	assert.Equal(t, "[1] 210\n", res.Output)
	assert.True(t, res.Browsing)

	var done transport.InteractResult
	h.call(transport.RequestContinue, nil, &done)
	assert.False(t, done.Browsing)
	assert.Equal(t, "[1] 42\n", done.Output)
	assert.Equal(t, promptTop, done.Prompt)
}

func TestBrowseCommands(t *testing.T) {
	h := newHarness(t)
	h.interact("function inner(v) { return v + 1 }\nfunction outer(v) { browser(); return inner(v) * 2 }")
	h.call(transport.RequestTrace, transport.TraceParams{Enabled: true}, nil)

	res := h.interact("outer(1)")
	require.True(t, res.Browsing)

	res = h.interact("s")
	assert.True(t, res.Browsing)
	h.waitFor(transport.NotifyStopped)
	msg := h.waitFor(transport.NotifyStopped)
	var stopped transport.StoppedParams
	require.NoError(t, transport.Unmarshal(msg.Params, &stopped))
	assert.Equal(t, transport.ReasonStep, stopped.Reason)
	assert.Equal(t, "inner", stopped.Frames[0].Function)
	require.Len(t, stopped.Frames, 3)

	res = h.interact("Q")
	assert.False(t, res.Browsing)
	assert.Empty(t, res.Output)

	res = h.interact("1")
	assert.Equal(t, "[1] 1\n", res.Output)
}

func TestStepWhenNotStopped(t *testing.T) {
	h := newHarness(t)

	err := h.try(transport.RequestStep, transport.StepParams{Mode: transport.StepOver}, nil)
	var perr *transport.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, transport.CodeNotStopped, perr.Code)

	err = h.try("bogus", nil, nil)
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, transport.CodeUnknownRequest, perr.Code)
}

func TestFileBreakpointsAreUnverified(t *testing.T) {
	h := newHarness(t)

	var bp transport.BreakpointResult
	h.call(transport.RequestSetBreakpoint, transport.BreakpointParams{File: "a.R", Line: 3, Enabled: true}, &bp)
	assert.False(t, bp.Verified)
	assert.NotEmpty(t, bp.Message)
}

func TestCancelInterruptsRunningCode(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := h.conn.Call(ctx, transport.RequestInteract, transport.InteractParams{Text: "while (true) {}"})
	require.Error(t, err)

	assert.Equal(t, "2", h.describe("1+1", nil).Repr)
}

func TestStatisticsBuiltins(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		expr string
		repr string
	}{
		{"mean([1, 2, 3])", "2"},
		{"median([4, 1, 3, 2])", "2.5"},
		{"variance([1, 2, 3, 4])", "1.66666666666667"},
		{"quantile([1, 2, 3, 4, 5], [0, 1])", "c(1, 5)"},
		{"beta(1, 1)", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.repr, h.describe(tt.expr, nil).Repr)
		})
	}

	assert.Equal(t, inspect.KindError, h.describe("mean(['a'])", nil).Kind)
	assert.True(t, strings.HasPrefix(h.describe("digamma(1)", nil).Repr, "-0.5772"))
	assert.Equal(t, inspect.KindError, h.describe("digamma([1, 2])", nil).Kind)
}

func TestWorkspaceRoundTrip(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "ws.zst")

	h.interact("a = [1, 2]; b = {k: 'v'}; function f(x) { return x + 1 }")
	res := h.interact("saveWorkspace('" + filepath.ToSlash(path) + "')")
	require.Empty(t, res.Error)

	h.interact("rm(ls())")
	assert.Equal(t, "0", h.describe("ls().length", nil).Repr)

	res = h.interact("loadWorkspace('" + filepath.ToSlash(path) + "')")
	require.Empty(t, res.Error)
	assert.Equal(t, "c(1, 2)", h.describe("a", nil).Repr)
	assert.Equal(t, "3", h.describe("f(2)", nil).Repr)
}

func TestWorkingDirectory(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	res := h.interact("setwd('" + filepath.ToSlash(dir) + "')")
	require.Empty(t, res.Error)
	assert.Equal(t, `"`+filepath.ToSlash(dir)+`"`, h.describe("getwd()", nil).Repr)

	res = h.interact("setwd('/definitely/not/here')")
	assert.Contains(t, res.Error, "cannot change working directory")
}

func TestBuiltinsReceiveArguments(t *testing.T) {
	h := newHarness(t)

	res := h.interact("options({digits: 3})")
	require.Empty(t, res.Error)
	assert.Equal(t, "3", h.describe("getOption('digits')", nil).Repr)
	assert.Equal(t, `"fallback"`, h.describe("getOption('missing', 'fallback')", nil).Repr)

	d := h.describe("stop('boom', '!')", nil)
	assert.Equal(t, inspect.KindError, d.Kind)
	assert.Equal(t, "boom!", d.Error)
}
