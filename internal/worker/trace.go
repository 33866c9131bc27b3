package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/dop251/goja"
)

const globalFrame = "<global>"

// wrapGlobals replaces every user-defined global function with a native
// wrapper that maintains the frame stack and checks breakpoints.
func (i *Interpreter) wrapGlobals() {
	global := i.vm.GlobalObject()
	for _, name := range global.Keys() {
		if i.builtins[name] || i.bindings[name] {
			continue
		}
		if _, ok := i.promises[name]; ok {
			continue
		}

		val := global.Get(name)
		obj, ok := val.(*goja.Object)
		if !ok {
			delete(i.wrappers, name)
			continue
		}
		if _, wrapped := i.originals[obj]; wrapped {
			continue
		}
		if _, callable := goja.AssertFunction(val); !callable {
			delete(i.wrappers, name)
			continue
		}
		i.wrap(name, val)
	}
}

func (i *Interpreter) wrap(name string, orig goja.Value) {
	fn, _ := goja.AssertFunction(orig)
	params := paramNames(orig.String())

	wrapper := i.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return i.invoke(name, fn, params, call)
	}).(*goja.Object)

	i.originals[wrapper] = orig
	i.wrappers[name] = wrapper
	_ = i.vm.GlobalObject().Set(name, wrapper)
}

func (i *Interpreter) invoke(name string, fn goja.Callable, params []string, call goja.FunctionCall) goja.Value {
	if !i.interactive {
		return i.callThrough(fn, call)
	}

	env := i.vm.NewObject()
	for k, p := range params {
		_ = env.Set(p, call.Argument(k))
	}
	i.envs[env] = true
	defer delete(i.envs, env)

	i.stack = append(i.stack, &frame{function: name, call: i.callText(name, call.Arguments), env: env})
	depth := len(i.stack)
	defer func() {
		if len(i.stack) >= depth {
			i.stack = i.stack[:depth-1]
		}
	}()

	if reason, bp, stop := i.stopOnEntry(name, depth); stop {
		i.browse(reason, bp)
	}

	result := i.callThrough(fn, call)

	i.stack = i.stack[:depth-1]
	if i.stopOnExit(depth - 1) {
		i.browse(transport.ReasonStep, "")
	}
	return result
}

// callThrough calls the original function and propagates its failure into
// the calling script
func (i *Interpreter) callThrough(fn goja.Callable, call goja.FunctionCall) goja.Value {
	v, err := fn(call.This, call.Arguments...)
	if err == nil {
		return v
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		i.vm.Interrupt(ie.Value())
	} else {
		i.vm.Interrupt(err)
	}
	return goja.Undefined()
}

func (i *Interpreter) stopOnEntry(name string, depth int) (reason, breakpoint string, stop bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.tracing {
		return "", "", false
	}
	if i.breakpoints[name] {
		return transport.ReasonBreakpoint, name, true
	}
	if !i.step.active {
		return "", "", false
	}
	switch i.step.mode {
	case transport.StepInto:
		return i.step.reason, "", true
	case transport.StepOver:
		return i.step.reason, "", depth <= i.step.depth
	}
	return "", "", false
}

func (i *Interpreter) stopOnExit(depth int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tracing && i.step.active && depth > 0 && depth < i.step.depth
}

func (i *Interpreter) setStep(mode string, depth int) {
	if mode == transport.StepOver && depth < 1 {
		depth = 1
	}
	i.mu.Lock()
	i.step = stepState{active: true, mode: mode, depth: depth, reason: transport.ReasonStep}
	i.mu.Unlock()
}

func (i *Interpreter) clearStep() {
	i.mu.Lock()
	i.step = stepState{}
	i.mu.Unlock()
}

// frameInfos lists the stack from the innermost call out to the global
// frame, which is always present
func (i *Interpreter) frameInfos() []transport.FrameInfo {
	n := len(i.stack)
	frames := make([]transport.FrameInfo, 0, n+1)
	for k := n - 1; k >= 0; k-- {
		frames = append(frames, transport.FrameInfo{
			Index:    n - 1 - k,
			Function: i.stack[k].function,
			Call:     i.stack[k].call,
		})
	}
	return append(frames, transport.FrameInfo{Index: n, Function: globalFrame})
}

// frameEnv returns the environment for a frame index; nil means global
func (i *Interpreter) frameEnv(index int) (*goja.Object, error) {
	n := len(i.stack)
	switch {
	case index < 0 || index > n:
		return nil, fmt.Errorf("no frame %d", index)
	case index == n:
		return nil, nil
	default:
		return i.stack[n-1-index].env, nil
	}
}

// browse suspends the running code at a prompt until the host resumes it
func (i *Interpreter) browse(reason, breakpoint string) {
	c := i.conn.Load()
	if c == nil {
		return
	}
	i.clearStep()
	i.drainControl()

	depth := len(i.stack)
	i.browsing.Add(1)
	defer i.browsing.Add(-1)

	i.notify(transport.NotifyStopped, transport.StoppedParams{
		Reason:     reason,
		Breakpoint: breakpoint,
		Frames:     i.frameInfos(),
	})
	i.replyPrompt()

	for {
		select {
		case req := <-i.control:
			if i.resume(req, depth) {
				return
			}
		case req := <-i.work:
			if i.serveBrowse(req, depth) {
				return
			}
		case <-c.done:
			i.vm.Interrupt(interruptQuit)
			return
		case <-i.quit:
			return
		}
	}
}

func (i *Interpreter) drainControl() {
	for {
		select {
		case req := <-i.control:
			req.fail(transport.CodeNotStopped, "not stopped in the debugger")
		default:
			return
		}
	}
}

// resume handles step and continue; it reports whether execution resumes
func (i *Interpreter) resume(req *request, depth int) bool {
	mode := ""
	if req.msg.Name == transport.RequestStep {
		var p transport.StepParams
		if !req.decode(&p) {
			return false
		}
		switch p.Mode {
		case transport.StepInto, transport.StepOver, transport.StepOut:
			mode = p.Mode
		default:
			req.fail(transport.CodeBadRequest, fmt.Sprintf("unknown step mode %q", p.Mode))
			return false
		}
	}
	i.resumeWith(req, mode, depth)
	return true
}

func (i *Interpreter) resumeWith(req *request, mode string, depth int) {
	i.promptReq = req
	i.output.Reset()
	i.lastErr = ""
	if mode != "" {
		i.setStep(mode, depth)
	}
}

var browseCommands = map[string]string{
	"c": "",
	"n": transport.StepOver,
	"s": transport.StepInto,
	"f": transport.StepOut,
}

// serveBrowse handles a queued request while stopped; it reports whether
// execution resumes
func (i *Interpreter) serveBrowse(req *request, depth int) bool {
	if i.takeCancelled(req.msg.ID) {
		req.fail(transport.CodeCancelled, "cancelled before start")
		return false
	}
	if req.msg.Name != transport.RequestInteract {
		i.serveEval(req)
		return false
	}

	var p transport.InteractParams
	if !req.decode(&p) {
		return false
	}
	text := strings.TrimSpace(p.Text)
	if mode, ok := browseCommands[text]; ok {
		i.resumeWith(req, mode, depth)
		return true
	}
	if text == "Q" {
		i.promptReq = req
		i.output.Reset()
		i.vm.Interrupt(interruptQuit)
		return true
	}

	i.promptReq = req
	i.output.Reset()
	i.lastErr = ""

	env, _ := i.frameEnv(0)
	prev := i.interactive
	i.interactive = false
	val, err := i.run(sourceConsole, p.Text, env)
	i.interactive = prev

	if err != nil {
		i.lastErr = i.errorText(err)
		i.write("Error: "+i.lastErr+"\n", true)
	} else if !goja.IsUndefined(val) {
		i.write(i.printText(val)+"\n", false)
	}
	i.replyPrompt()
	return false
}

func (i *Interpreter) callText(name string, args []goja.Value) string {
	parts := make([]string, len(args))
	for k, a := range args {
		parts[k] = i.shortRepr(a)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// paramNames extracts parameter names from function source
func paramNames(src string) []string {
	src = strings.TrimSpace(src)
	var list string
	open := strings.IndexByte(src, '(')
	arrow := strings.Index(src, "=>")
	switch {
	case arrow >= 0 && (open < 0 || open > arrow):
		list = src[:arrow]
	case open >= 0:
		end := strings.IndexByte(src[open:], ')')
		if end < 0 {
			return nil
		}
		list = src[open+1 : open+end]
	default:
		return nil
	}

	var names []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			p = strings.TrimSpace(p[:eq])
		}
		p = strings.TrimPrefix(p, "...")
		if p != "" && isIdentifier(p) {
			names = append(names, p)
		}
	}
	return names
}

// userNames lists the global names visible to the console user
func (i *Interpreter) userNames() []string {
	global := i.vm.GlobalObject()
	var names []string
	for _, name := range global.Keys() {
		if i.builtins[name] {
			continue
		}
		if i.removed[name] {
			if _, pending := i.promises[name]; !pending && !i.bindings[name] && goja.IsUndefined(global.Get(name)) {
				continue
			}
			delete(i.removed, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
