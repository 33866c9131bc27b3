package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/dop251/goja"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

type builtin = func(goja.FunctionCall) goja.Value

func (i *Interpreter) registerBuiltins() error {
	fns := map[string]builtin{
		"stop":              i.stop,
		"print":             i.print,
		"cat":               i.cat,
		"browser":           i.browser,
		"attr":              i.attr,
		"attributes":        i.attributesFn,
		"delayedAssign":     i.delayedAssign,
		"makeActiveBinding": i.makeActiveBinding,
		"environment":       i.environment,
		"getwd":             i.getwd,
		"setwd":             i.setwd,
		"libPaths":          i.libPathsFn,
		"getOption":         i.getOption,
		"options":           i.optionsFn,
		"mean":              i.statistic(func(x []float64) float64 { return stat.Mean(x, nil) }),
		"sd":                i.statistic(func(x []float64) float64 { return stat.StdDev(x, nil) }),
		"variance":          i.statistic(func(x []float64) float64 { return stat.Variance(x, nil) }),
		"median":            i.statistic(median),
		"quantile":          i.quantile,
		"digamma":           i.special(mathext.Digamma),
		"beta":              i.beta,
		"installedPackages": i.installedPackagesFn,
		"source":            i.source,
		"saveWorkspace":     i.saveWorkspace,
		"loadWorkspace":     i.loadWorkspace,
		"rm":                i.rm,
		"ls":                i.ls,
	}

	for name, fn := range fns {
		if err := i.vm.Set(name, fn); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		i.builtins[name] = true
	}
	return nil
}

// throw raises err as a script error
func (i *Interpreter) throw(format string, args ...any) {
	panic(i.vm.NewGoError(fmt.Errorf(format, args...)))
}

func (i *Interpreter) stop(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for k, a := range call.Arguments {
		parts[k] = a.String()
	}
	panic(i.vm.NewGoError(errors.New(strings.Join(parts, ""))))
}

func (i *Interpreter) print(call goja.FunctionCall) goja.Value {
	i.write(i.printText(call.Argument(0))+"\n", false)
	return goja.Undefined()
}

func (i *Interpreter) cat(call goja.FunctionCall) goja.Value {
	var parts []string
	for _, a := range call.Arguments {
		if obj, ok := a.(*goja.Object); ok && obj.ClassName() == "Array" {
			for _, e := range arrayElements(obj) {
				parts = append(parts, e.String())
			}
			continue
		}
		parts = append(parts, a.String())
	}
	i.write(strings.Join(parts, " "), false)
	return goja.Undefined()
}

func (i *Interpreter) browser(goja.FunctionCall) goja.Value {
	if i.interactive {
		i.browse(transport.ReasonBrowser, "")
	}
	return goja.Undefined()
}

func (i *Interpreter) attr(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	name := call.Argument(1).String()
	if len(call.Arguments) < 3 {
		if !ok || i.attrs[obj] == nil {
			return goja.Null()
		}
		if v, found := i.attrs[obj].values[name]; found {
			return v
		}
		return goja.Null()
	}
	if !ok {
		i.throw("attributes can only be set on objects")
	}

	a := i.attrs[obj]
	if a == nil {
		a = &attributes{values: make(map[string]goja.Value)}
		i.attrs[obj] = a
	}
	value := call.Argument(2)
	if goja.IsNull(value) || goja.IsUndefined(value) {
		delete(a.values, name)
		for k, n := range a.names {
			if n == name {
				a.names = append(a.names[:k], a.names[k+1:]...)
				break
			}
		}
		return obj
	}
	if _, found := a.values[name]; !found {
		a.names = append(a.names, name)
	}
	a.values[name] = value
	return obj
}

func (i *Interpreter) attributesFn(call goja.FunctionCall) goja.Value {
	a := i.attributesOf(call.Argument(0))
	if a == nil || len(a.names) == 0 {
		return goja.Null()
	}
	out := i.vm.NewObject()
	for _, n := range a.names {
		_ = out.Set(n, a.values[n])
	}
	return out
}

func (i *Interpreter) delayedAssign(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	code := call.Argument(1).String()
	global := i.vm.GlobalObject()

	force := func(v goja.Value) {
		delete(i.promises, name)
		_ = global.DefineDataProperty(name, v, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
	}
	getter := i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		v, err := i.vm.RunScript(name, code)
		if err != nil {
			var ex *goja.Exception
			if errors.As(err, &ex) {
				panic(ex)
			}
			i.vm.Interrupt(err)
			return goja.Undefined()
		}
		force(v)
		return v
	})
	setter := i.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		force(c.Argument(0))
		return goja.Undefined()
	})

	if err := global.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		panic(err)
	}
	i.promises[name] = code
	return goja.Undefined()
}

func (i *Interpreter) makeActiveBinding(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		i.throw("makeActiveBinding requires a function")
	}

	getter := i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return i.callThrough(fn, goja.FunctionCall{This: goja.Undefined()})
	})
	setter := i.vm.ToValue(func(c goja.FunctionCall) goja.Value {
		return i.callThrough(fn, goja.FunctionCall{This: goja.Undefined(), Arguments: c.Arguments})
	})

	if err := i.vm.GlobalObject().DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		panic(err)
	}
	i.bindings[name] = true
	return goja.Undefined()
}

func (i *Interpreter) environment(goja.FunctionCall) goja.Value {
	if i.env != nil {
		return i.env
	}
	return i.vm.GlobalObject()
}

func (i *Interpreter) getwd(goja.FunctionCall) goja.Value {
	return i.vm.ToValue(i.wd)
}

func (i *Interpreter) setwd(call goja.FunctionCall) goja.Value {
	prev := i.wd
	if err := i.chdir(call.Argument(0).String()); err != nil {
		i.throw("%v", err)
	}
	return i.vm.ToValue(prev)
}

func (i *Interpreter) chdir(dir string) error {
	path := i.resolve(dir)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot change working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("cannot change working directory: %s is not a directory", path)
	}
	i.wd = path
	return nil
}

func (i *Interpreter) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(i.wd, path)
}

func (i *Interpreter) libPathsFn(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) > 0 {
		i.libPaths = i.stringList(call.Argument(0))
	}
	return i.stringArray(i.libPaths)
}

// stringList accepts a string or an array of strings
func (i *Interpreter) stringList(v goja.Value) []string {
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		var out []string
		for _, e := range arrayElements(obj) {
			out = append(out, e.String())
		}
		return out
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return []string{v.String()}
}

func (i *Interpreter) getOption(call goja.FunctionCall) goja.Value {
	if v, ok := i.options[call.Argument(0).String()]; ok {
		return v
	}
	if len(call.Arguments) > 1 {
		return call.Argument(1)
	}
	return goja.Null()
}

func (i *Interpreter) optionsFn(call goja.FunctionCall) goja.Value {
	prev := i.vm.NewObject()
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		names := make([]string, 0, len(i.options))
		for n := range i.options {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			_ = prev.Set(n, i.options[n])
		}
		return prev
	}

	for _, k := range obj.Keys() {
		old, had := i.options[k]
		if had {
			_ = prev.Set(k, old)
		} else {
			_ = prev.Set(k, goja.Null())
		}
		i.options[k] = obj.Get(k)
	}
	return prev
}

func (i *Interpreter) numbers(v goja.Value) []float64 {
	var elems []goja.Value
	if obj, ok := v.(*goja.Object); ok && obj.ClassName() == "Array" {
		elems = arrayElements(obj)
	} else {
		elems = []goja.Value{v}
	}

	out := make([]float64, 0, len(elems))
	for _, e := range elems {
		switch e.Export().(type) {
		case int64, float64:
			out = append(out, e.ToFloat())
		default:
			i.throw("argument is not numeric")
		}
	}
	if len(out) == 0 {
		i.throw("argument has length zero")
	}
	return out
}

func (i *Interpreter) statistic(fn func([]float64) float64) builtin {
	return func(call goja.FunctionCall) goja.Value {
		return i.vm.ToValue(fn(i.numbers(call.Argument(0))))
	}
}

// special applies fn to a single numeric argument
func (i *Interpreter) special(fn func(float64) float64) builtin {
	return func(call goja.FunctionCall) goja.Value {
		x := i.numbers(call.Argument(0))
		if len(x) != 1 {
			i.throw("argument must be a single number")
		}
		return i.vm.ToValue(fn(x[0]))
	}
}

func (i *Interpreter) beta(call goja.FunctionCall) goja.Value {
	a, b := i.numbers(call.Argument(0)), i.numbers(call.Argument(1))
	if len(a) != 1 || len(b) != 1 {
		i.throw("arguments must be single numbers")
	}
	return i.vm.ToValue(mathext.Beta(a[0], b[0]))
}

func median(x []float64) float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (i *Interpreter) quantile(call goja.FunctionCall) goja.Value {
	x := i.numbers(call.Argument(0))
	sort.Float64s(x)

	probs := []float64{0, 0.25, 0.5, 0.75, 1}
	if len(call.Arguments) > 1 {
		probs = i.numbers(call.Argument(1))
	}

	out := make([]any, len(probs))
	for k, p := range probs {
		if p < 0 || p > 1 {
			i.throw("probabilities must be between 0 and 1")
		}
		out[k] = stat.Quantile(p, stat.Empirical, x, nil)
	}
	return i.vm.NewArray(out...)
}

func (i *Interpreter) rm(call goja.FunctionCall) goja.Value {
	global := i.vm.GlobalObject()
	for _, a := range call.Arguments {
		for _, name := range i.stringList(a) {
			if i.builtins[name] {
				continue
			}
			i.remove(global, name)
		}
	}
	return goja.Undefined()
}

func (i *Interpreter) remove(global *goja.Object, name string) {
	delete(i.promises, name)
	delete(i.bindings, name)
	if w, ok := i.wrappers[name]; ok {
		delete(i.originals, w)
		delete(i.wrappers, name)
	}
	if err := global.Delete(name); err != nil {
		// declared with var; hide it until it is assigned again
		_ = global.Set(name, goja.Undefined())
		i.removed[name] = true
	}
}

func (i *Interpreter) ls(goja.FunctionCall) goja.Value {
	return i.stringArray(i.userNames())
}

// stringArray builds a script array from ss
func (i *Interpreter) stringArray(ss []string) *goja.Object {
	items := make([]any, len(ss))
	for k, v := range ss {
		items[k] = v
	}
	return i.vm.NewArray(items...)
}
