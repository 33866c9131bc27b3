package worker

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Version is reported in the start handshake
const Version = "rhost-worker 0.1 (goja)"

const (
	promptTop     = "> "
	promptBrowse  = "Browse[%d]> "
	sourceConsole = "<console>"
	sourceEval    = "<eval>"
)

// interruptReason is the value passed to Runtime.Interrupt
type interruptReason string

const (
	interruptCancel interruptReason = "cancelled"
	interruptQuit   interruptReason = "quit"
)

// Options configures an interpreter
type Options struct {
	Logger           *zap.Logger
	WorkingDirectory string
	LibPaths         []string
	// Settings seed the values reported by getOption
	Settings map[string]any
	// OnShutdown is called once when the host requests shutdown
	OnShutdown func()
}

type frame struct {
	function string
	call     string
	env      *goja.Object
}

type stepState struct {
	active bool
	mode   string
	depth  int
	reason string
}

// Interpreter owns a goja runtime and serves protocol requests on a single
// goroutine
type Interpreter struct {
	vm     *goja.Runtime
	logger *zap.Logger
	opts   Options

	work    chan *request
	control chan *request
	quit    chan struct{}
	once    sync.Once

	conn atomic.Pointer[connection]

	// interpreter goroutine only
	output      strings.Builder
	lastErr     string
	promptReq   *request
	interactive bool
	stack       []*frame
	env         *goja.Object
	builtins    map[string]bool
	wrappers    map[string]*goja.Object
	originals   map[*goja.Object]goja.Value
	attrs       map[*goja.Object]*attributes
	envs        map[*goja.Object]bool
	promises    map[string]string
	bindings    map[string]bool
	removed     map[string]bool
	options     map[string]goja.Value
	libPaths    []string
	wd          string
	frameEval   goja.Callable
	isAccessor  goja.Callable

	// shared with the connection reader
	mu          sync.Mutex
	tracing     bool
	breakpoints map[string]bool
	step        stepState
	cancelled   map[uint64]bool
	browsing    atomic.Int32
	current     atomic.Uint64
}

type attributes struct {
	names  []string
	values map[string]goja.Value
}

// NewInterpreter creates an interpreter and starts its goroutine
func NewInterpreter(opts Options) (*Interpreter, error) {
	wd := opts.WorkingDirectory
	if wd == "" {
		wd, _ = os.Getwd()
	}

	i := &Interpreter{
		vm:          goja.New(),
		logger:      logging.OrNop(opts.Logger),
		opts:        opts,
		work:        make(chan *request, 64),
		control:     make(chan *request, 8),
		quit:        make(chan struct{}),
		builtins:    make(map[string]bool),
		wrappers:    make(map[string]*goja.Object),
		originals:   make(map[*goja.Object]goja.Value),
		attrs:       make(map[*goja.Object]*attributes),
		envs:        make(map[*goja.Object]bool),
		promises:    make(map[string]string),
		bindings:    make(map[string]bool),
		removed:     make(map[string]bool),
		options:     make(map[string]goja.Value),
		libPaths:    append([]string(nil), opts.LibPaths...),
		wd:          wd,
		breakpoints: make(map[string]bool),
		cancelled:   make(map[uint64]bool),
	}
	i.vm.SetMaxCallStackSize(4096)
	for name, v := range opts.Settings {
		i.options[name] = i.vm.ToValue(v)
	}

	if err := i.setupHelpers(); err != nil {
		return nil, err
	}
	if err := i.registerBuiltins(); err != nil {
		return nil, err
	}

	go i.loop()
	return i, nil
}

// Close stops the interpreter goroutine
func (i *Interpreter) Close() {
	i.once.Do(func() {
		close(i.quit)
		i.vm.Interrupt(interruptQuit)
	})
}

func (i *Interpreter) setupHelpers() error {
	fe, err := i.vm.RunString(`(function(__rhost_env, __rhost_code) { with (__rhost_env) { return eval(__rhost_code); } })`)
	if err != nil {
		return fmt.Errorf("compile frame evaluator: %w", err)
	}
	acc, err := i.vm.RunString(`(function(o, k) { var d = Object.getOwnPropertyDescriptor(o, k); return !!(d && (d.get || d.set)); })`)
	if err != nil {
		return fmt.Errorf("compile accessor probe: %w", err)
	}

	var ok bool
	if i.frameEval, ok = goja.AssertFunction(fe); !ok {
		return errors.New("frame evaluator is not callable")
	}
	if i.isAccessor, ok = goja.AssertFunction(acc); !ok {
		return errors.New("accessor probe is not callable")
	}
	return nil
}

func (i *Interpreter) attach(c *connection) {
	i.conn.Store(c)
}

func (i *Interpreter) detach(c *connection) {
	i.conn.CompareAndSwap(c, nil)
}

func (i *Interpreter) notify(name string, params any) {
	c := i.conn.Load()
	if c == nil {
		return
	}
	msg, err := transport.Notification(name, params)
	if err != nil {
		i.logger.Warn("encode notification", zap.String("name", name), zap.Error(err))
		return
	}
	c.send(msg)
}

// dispatch routes a request from the connection reader. Control requests
// are answered here; evaluation-class requests are queued for the
// interpreter goroutine.
func (i *Interpreter) dispatch(req *request) {
	switch req.msg.Name {
	case transport.RequestTrace:
		var p transport.TraceParams
		if !req.decode(&p) {
			return
		}
		i.mu.Lock()
		i.tracing = p.Enabled
		if !p.Enabled {
			i.step = stepState{}
		}
		i.mu.Unlock()
		req.reply(struct{}{})

	case transport.RequestSetBreakpoint:
		var p transport.BreakpointParams
		if !req.decode(&p) {
			return
		}
		if p.Function == "" {
			req.reply(transport.BreakpointResult{Verified: false, Message: "only function breakpoints are supported"})
			return
		}
		i.mu.Lock()
		if p.Enabled {
			i.breakpoints[p.Function] = true
		} else {
			delete(i.breakpoints, p.Function)
		}
		i.mu.Unlock()
		req.reply(transport.BreakpointResult{Verified: true})

	case transport.RequestClearBreakpoint:
		var p transport.BreakpointParams
		if !req.decode(&p) {
			return
		}
		i.mu.Lock()
		delete(i.breakpoints, p.Function)
		i.mu.Unlock()
		req.reply(struct{}{})

	case transport.RequestBreak:
		i.mu.Lock()
		i.step = stepState{active: true, mode: transport.StepInto, depth: int(^uint(0) >> 1), reason: transport.ReasonBreak}
		i.mu.Unlock()
		req.reply(struct{}{})

	case transport.RequestCancel:
		var p transport.CancelParams
		if !req.decode(&p) {
			return
		}
		i.cancel(p.ID)
		req.reply(struct{}{})

	case transport.RequestStep, transport.RequestContinue:
		if i.browsing.Load() == 0 {
			req.fail(transport.CodeNotStopped, "not stopped in the debugger")
			return
		}
		i.control <- req

	case transport.RequestShutdown:
		req.reply(struct{}{})
		if i.opts.OnShutdown != nil {
			i.opts.OnShutdown()
		}

	case transport.RequestStart, transport.RequestEvaluate, transport.RequestInteract,
		transport.RequestChildren, transport.RequestSetValue:
		select {
		case i.work <- req:
		case <-i.quit:
			req.fail(transport.CodeInternal, "interpreter closed")
		}

	default:
		req.fail(transport.CodeUnknownRequest, fmt.Sprintf("unknown request %q", req.msg.Name))
	}
}

func (i *Interpreter) cancel(id uint64) {
	i.mu.Lock()
	if len(i.cancelled) > 1024 {
		i.cancelled = make(map[uint64]bool)
	}
	i.cancelled[id] = true
	i.mu.Unlock()

	if i.current.Load() == id && i.browsing.Load() == 0 {
		i.vm.Interrupt(interruptCancel)
	}
}

func (i *Interpreter) takeCancelled(id uint64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	c := i.cancelled[id]
	delete(i.cancelled, id)
	return c
}

func (i *Interpreter) loop() {
	for {
		select {
		case req := <-i.work:
			i.serveTop(req)
		case <-i.quit:
			return
		}
	}
}

func (i *Interpreter) serveTop(req *request) {
	id := req.msg.ID
	if i.takeCancelled(id) {
		req.fail(transport.CodeCancelled, "cancelled before start")
		return
	}

	i.current.Store(id)
	i.vm.ClearInterrupt()
	defer func() {
		i.current.Store(0)
		i.takeCancelled(id)
	}()

	switch req.msg.Name {
	case transport.RequestStart:
		i.start(req)
	case transport.RequestInteract:
		i.interact(req)
	default:
		i.serveEval(req)
	}
}

// serveEval handles requests that are served the same way at top level and
// while browsing
func (i *Interpreter) serveEval(req *request) {
	switch req.msg.Name {
	case transport.RequestEvaluate:
		i.evaluate(req)
	case transport.RequestChildren:
		i.children(req)
	case transport.RequestSetValue:
		i.setValue(req)
	case transport.RequestStart:
		i.start(req)
	}
}

func (i *Interpreter) start(req *request) {
	var p transport.StartParams
	if !req.decode(&p) {
		return
	}
	if p.WorkingDirectory != "" {
		if err := i.chdir(p.WorkingDirectory); err != nil {
			req.fail(transport.CodeBadRequest, err.Error())
			return
		}
	}
	for k, v := range p.Options {
		i.options[k] = i.vm.ToValue(v)
	}
	req.reply(transport.StartResult{Version: Version, PID: os.Getpid()})
}

// run executes src at global scope, or in env when env is non-nil
func (i *Interpreter) run(name, src string, env *goja.Object) (val goja.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	if env == nil {
		return i.vm.RunScript(name, src)
	}

	prev := i.env
	i.env = env
	defer func() { i.env = prev }()
	return i.frameEval(goja.Undefined(), env, i.vm.ToValue(src))
}

func interruptedBy(err error, reason interruptReason) bool {
	var ie *goja.InterruptedError
	if !errors.As(err, &ie) {
		return false
	}
	r, ok := ie.Value().(interruptReason)
	return ok && r == reason
}

// errorText renders a run failure the way the console shows it
func (i *Interpreter) errorText(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if obj, ok := ex.Value().(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				return msg.String()
			}
		}
		return ex.Value().String()
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Sprint(ie.Value())
	}
	return err.Error()
}

func (i *Interpreter) write(text string, stderr bool) {
	if text == "" {
		return
	}
	if !stderr {
		i.output.WriteString(text)
	}
	i.notify(transport.NotifyOutput, transport.OutputParams{Text: text, Stderr: stderr})
}

func (i *Interpreter) promptText() string {
	if level := i.browsing.Load(); level > 0 {
		return fmt.Sprintf(promptBrowse, level)
	}
	return promptTop
}

// replyPrompt announces the prompt and answers the request that was
// waiting for it, if any
func (i *Interpreter) replyPrompt() {
	prompt := i.promptText()
	browsing := i.browsing.Load() > 0

	i.notify(transport.NotifyPrompt, transport.PromptParams{Prompt: prompt, Browsing: browsing})
	if req := i.promptReq; req != nil {
		i.promptReq = nil
		req.reply(transport.InteractResult{
			Output:   i.output.String(),
			Prompt:   prompt,
			Browsing: browsing,
			Error:    i.lastErr,
		})
	}
	i.output.Reset()
	i.lastErr = ""
}

// interact runs console input at top level. The reply is sent at the next
// prompt, which is a browse prompt if the input stops.
func (i *Interpreter) interact(req *request) {
	var p transport.InteractParams
	if !req.decode(&p) {
		return
	}

	i.promptReq = req
	i.output.Reset()
	i.lastErr = ""

	i.interactive = true
	val, err := i.run(sourceConsole, p.Text, nil)
	i.interactive = false
	i.stack = i.stack[:0]
	i.clearStep()

	switch {
	case err == nil:
		if !goja.IsUndefined(val) {
			i.write(i.printText(val)+"\n", false)
		}
	case interruptedBy(err, interruptQuit):
	case interruptedBy(err, interruptCancel) && i.promptReq == req:
		i.promptReq = nil
		req.fail(transport.CodeCancelled, "interrupted")
	default:
		i.lastErr = i.errorText(err)
		i.write("Error: "+i.lastErr+"\n", true)
	}

	i.vm.ClearInterrupt()
	i.wrapGlobals()
	i.replyPrompt()
}

// scope resolves the environment an evaluation runs in
func (i *Interpreter) scope(frameIndex *int, kind uint32) (*goja.Object, error) {
	const (
		emptyEnv = 1 << 4
		newEnv   = 1 << 5
	)
	if frameIndex != nil {
		return i.frameEnv(*frameIndex)
	}
	if kind&(emptyEnv|newEnv) != 0 {
		env := i.vm.NewObject()
		i.envs[env] = true
		return env, nil
	}
	return nil, nil
}

func (i *Interpreter) evaluate(req *request) {
	var p transport.EvaluateParams
	if !req.decode(&p) {
		return
	}

	env, err := i.scope(p.Frame, p.Kind)
	if err != nil {
		i.replyEvaluation(req, p, nil, err)
		return
	}

	prev := i.interactive
	i.interactive = false
	val, err := i.run(sourceEval, p.Expression, env)
	i.interactive = prev

	if interruptedBy(err, interruptCancel) {
		i.vm.ClearInterrupt()
		req.fail(transport.CodeCancelled, "interrupted")
		return
	}
	i.replyEvaluation(req, p, val, err)
	if env == nil {
		i.wrapGlobals()
	}
}

func (i *Interpreter) replyEvaluation(req *request, p transport.EvaluateParams, val goja.Value, err error) {
	if p.Describe {
		if err != nil {
			req.reply(errorDescription(p.Expression, p.Name, i.errorText(err)))
			return
		}
		req.reply(i.describe(val, p.Expression, p.Name, p.Properties))
		return
	}

	if err != nil {
		req.reply(transport.EvaluateResult{Error: i.errorText(err)})
		return
	}
	req.reply(transport.EvaluateResult{Value: i.export(val)})
}
