package worker

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/dop251/goja"
)

const (
	typeNull        = "NULL"
	typeNumeric     = "numeric"
	typeCharacter   = "character"
	typeLogical     = "logical"
	typeList        = "list"
	typeClosure     = "closure"
	typeEnvironment = "environment"
)

var (
	identPattern  = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
	accessPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*|\[[^\]]*\])*$`)
)

func isIdentifier(s string) bool { return identPattern.MatchString(s) }

// shape is the structural summary of a value
type shape struct {
	typ      string
	classes  []string
	repr     string
	length   int
	names    int
	flags    inspect.Flags
	elements []goja.Value
	keys     []string
	object   *goja.Object
	env      bool
}

func errorDescription(expr, name, text string) inspect.Description {
	return inspect.Description{Kind: inspect.KindError, Expression: expr, Name: name, Error: text}
}

// describe produces the wire description of val, filling only the
// requested optional fields
func (i *Interpreter) describe(val goja.Value, expr, name string, fields []string) inspect.Description {
	props := inspect.AllProperties
	if len(fields) > 0 {
		props = inspect.ParseFields(fields)
	}

	s := i.shapeOf(val)
	d := inspect.Description{
		Kind: inspect.KindValue,
		Name: name,
		Repr: s.repr,
	}
	if props.Has(inspect.ExpressionProperty) {
		d.Expression = expr
	}
	if props.Has(inspect.TypeNameProperty) {
		d.Type = s.typ
	}

	attrs := i.attributesOf(val)
	if props.Has(inspect.ClassesProperty) {
		d.Classes = s.classes
		if cls := i.stringsAttr(attrs, "class"); len(cls) > 0 {
			d.Classes = cls
		}
	}
	if props.Has(inspect.LengthProperty) {
		d.Length = intPtr(s.length)
	}
	if props.Has(inspect.SlotCountProperty) {
		d.SlotCount = intPtr(0)
	}
	if props.Has(inspect.AttributeCountProperty) {
		n := 0
		if attrs != nil {
			n = len(attrs.names)
		}
		d.AttrCount = intPtr(n)
	}
	if props.Has(inspect.NameCountProperty) {
		d.NameCount = intPtr(s.names)
	}
	if props.Has(inspect.DimProperty) {
		d.Dim = i.intsAttr(attrs, "dim")
	}
	if props.Has(inspect.FlagsProperty) {
		d.Flags = s.flags.Names()
	}
	return d
}

func intPtr(n int) *int { return &n }

func (i *Interpreter) shapeOf(val goja.Value) shape {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return shape{typ: typeNull, classes: []string{typeNull}, repr: "NULL"}
	}

	obj, ok := val.(*goja.Object)
	if !ok {
		typ, text := atomicText(val)
		return shape{typ: typ, classes: []string{typ}, repr: text, length: 1, flags: inspect.FlagAtomic}
	}

	if orig, wrapped := i.originals[obj]; wrapped {
		return shape{typ: typeClosure, classes: []string{"function"}, repr: orig.String(), length: 1}
	}
	if _, callable := goja.AssertFunction(obj); callable {
		return shape{typ: typeClosure, classes: []string{"function"}, repr: obj.String(), length: 1}
	}

	if i.isEnvironment(obj) {
		keys := i.envKeys(obj)
		return shape{
			typ:     typeEnvironment,
			classes: []string{typeEnvironment},
			repr:    "<environment>",
			length:  len(keys),
			names:   len(keys),
			flags:   inspect.FlagHasParentEnv,
			keys:    keys,
			object:  obj,
			env:     true,
		}
	}

	if obj.ClassName() == "Array" {
		elems := arrayElements(obj)
		if typ, ok := homogeneous(elems); ok {
			parts := make([]string, len(elems))
			for k, e := range elems {
				_, parts[k] = atomicText(e)
			}
			repr := strings.Join(parts, ", ")
			if len(parts) != 1 {
				repr = "c(" + repr + ")"
			}
			return shape{typ: typ, classes: []string{typ}, repr: repr, length: len(elems), flags: inspect.FlagAtomic, elements: elems}
		}
		return shape{
			typ:      typeList,
			classes:  []string{typeList},
			repr:     fmt.Sprintf("List of %d", len(elems)),
			length:   len(elems),
			flags:    inspect.FlagRecursive,
			elements: elems,
		}
	}

	keys := obj.Keys()
	return shape{
		typ:     typeList,
		classes: []string{typeList},
		repr:    fmt.Sprintf("List of %d", len(keys)),
		length:  len(keys),
		names:   len(keys),
		flags:   inspect.FlagRecursive,
		keys:    keys,
		object:  obj,
	}
}

func (i *Interpreter) isEnvironment(obj *goja.Object) bool {
	return obj == i.vm.GlobalObject() || i.envs[obj]
}

func (i *Interpreter) envKeys(obj *goja.Object) []string {
	if obj == i.vm.GlobalObject() {
		return i.userNames()
	}
	keys := obj.Keys()
	sort.Strings(keys)
	return keys
}

// atomicText renders a primitive as a length-one vector
func atomicText(v goja.Value) (typ, text string) {
	switch x := v.Export().(type) {
	case bool:
		if x {
			return typeLogical, "TRUE"
		}
		return typeLogical, "FALSE"
	case int64:
		return typeNumeric, strconv.FormatInt(x, 10)
	case float64:
		return typeNumeric, formatNumber(x)
	case string:
		return typeCharacter, strconv.Quote(x)
	case nil:
		return typeNull, "NULL"
	default:
		return typeCharacter, strconv.Quote(v.String())
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', 15, 64)
}

func arrayElements(obj *goja.Object) []goja.Value {
	n := int(obj.Get("length").ToInteger())
	elems := make([]goja.Value, n)
	for k := 0; k < n; k++ {
		elems[k] = obj.Get(strconv.Itoa(k))
	}
	return elems
}

// homogeneous reports whether a non-empty array holds primitives of one type
func homogeneous(elems []goja.Value) (string, bool) {
	if len(elems) == 0 {
		return "", false
	}
	var typ string
	for _, e := range elems {
		if e == nil || goja.IsUndefined(e) || goja.IsNull(e) {
			return "", false
		}
		if _, isObj := e.(*goja.Object); isObj {
			return "", false
		}
		t, _ := atomicText(e)
		if typ != "" && t != typ {
			return "", false
		}
		typ = t
	}
	return typ, true
}

// shortRepr is used for call text in frames
func (i *Interpreter) shortRepr(v goja.Value) string {
	s := i.shapeOf(v)
	if s.typ == typeClosure {
		return "<function>"
	}
	if len(s.repr) > 40 {
		return s.repr[:37] + "..."
	}
	return s.repr
}

// printText renders a value the way the console auto-prints it
func (i *Interpreter) printText(val goja.Value) string {
	s := i.shapeOf(val)
	switch {
	case s.typ == typeNull || s.typ == typeClosure || s.env:
		return s.repr
	case s.flags&inspect.FlagAtomic != 0:
		parts := make([]string, 0, s.length)
		if s.elements == nil {
			_, text := atomicText(val)
			parts = append(parts, text)
		}
		for _, e := range s.elements {
			_, text := atomicText(e)
			parts = append(parts, text)
		}
		return "[1] " + strings.Join(parts, " ")
	}

	var b strings.Builder
	if s.keys != nil {
		for _, k := range s.keys {
			fmt.Fprintf(&b, "$%s\n%s\n\n", k, i.printText(s.object.Get(k)))
		}
	} else {
		for k, e := range s.elements {
			fmt.Fprintf(&b, "[[%d]]\n%s\n\n", k+1, i.printText(e))
		}
	}
	if b.Len() == 0 {
		return "list()"
	}
	return strings.TrimRight(b.String(), "\n")
}

// export converts a value to JSON for raw evaluation results
func (i *Interpreter) export(val goja.Value) json.RawMessage {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return json.RawMessage("null")
	}
	if obj, ok := val.(*goja.Object); ok {
		if orig, wrapped := i.originals[obj]; wrapped {
			val = orig
		}
	}
	if f, ok := val.Export().(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		raw, _ := transport.Marshal(formatNumber(f))
		return raw
	}
	raw, err := transport.Marshal(val.Export())
	if err != nil {
		raw, _ = transport.Marshal(val.String())
	}
	return raw
}

// childExpression builds the expression that selects a member of parent
func childExpression(parent, key string, index int, env bool) string {
	if env {
		return key
	}
	base := parent
	if !accessPattern.MatchString(parent) {
		base = "(" + parent + ")"
	}
	if index >= 0 {
		return fmt.Sprintf("%s[%d]", base, index)
	}
	if isIdentifier(key) {
		return base + "." + key
	}
	return base + "[" + strconv.Quote(key) + "]"
}

func (i *Interpreter) children(req *request) {
	var p transport.ChildrenParams
	if !req.decode(&p) {
		return
	}
	env, err := i.scope(p.Frame, 0)
	if err != nil {
		req.fail(transport.CodeBadRequest, err.Error())
		return
	}

	val, err := i.run(sourceEval, p.Expression, env)
	if err != nil {
		if interruptedBy(err, interruptCancel) {
			i.vm.ClearInterrupt()
			req.fail(transport.CodeCancelled, "interrupted")
			return
		}
		req.fail(transport.CodeBadRequest, i.errorText(err))
		return
	}
	req.reply(i.members(p.Expression, val, p.Properties))
}

// members describes the children of val in display order
func (i *Interpreter) members(expr string, val goja.Value, fields []string) []inspect.Description {
	s := i.shapeOf(val)
	out := []inspect.Description{}

	if s.elements != nil && s.keys == nil {
		for k, e := range s.elements {
			child := childExpression(expr, "", k, false)
			out = append(out, i.describe(e, child, fmt.Sprintf("[%d]", k), fields))
		}
		return out
	}

	for _, key := range s.keys {
		child := childExpression(expr, key, -1, s.env)
		global := s.object == i.vm.GlobalObject()

		if code, ok := i.promises[key]; global && ok {
			out = append(out, inspect.Description{Kind: inspect.KindPromise, Expression: child, Name: key, Code: code})
			continue
		}
		if (global && i.bindings[key]) || i.accessor(s.object, key) {
			out = append(out, inspect.Description{Kind: inspect.KindActiveBinding, Expression: child, Name: key})
			continue
		}
		out = append(out, i.describe(s.object.Get(key), child, key, fields))
	}
	return out
}

func (i *Interpreter) accessor(obj *goja.Object, key string) bool {
	v, err := i.isAccessor(goja.Undefined(), obj, i.vm.ToValue(key))
	return err == nil && v.ToBoolean()
}

func (i *Interpreter) setValue(req *request) {
	var p transport.SetValueParams
	if !req.decode(&p) {
		return
	}
	env, err := i.scope(p.Frame, 0)
	if err != nil {
		req.reply(errorDescription(p.Expression, "", err.Error()))
		return
	}
	if i.builtins[strings.TrimSpace(p.Expression)] {
		req.reply(errorDescription(p.Expression, "", "cannot assign to a builtin"))
		return
	}

	if _, err := i.run(sourceEval, p.Expression+" = ("+p.Value+")", env); err != nil {
		if interruptedBy(err, interruptCancel) {
			i.vm.ClearInterrupt()
			req.fail(transport.CodeCancelled, "interrupted")
			return
		}
		req.reply(errorDescription(p.Expression, "", i.errorText(err)))
		return
	}
	if env == nil {
		i.wrapGlobals()
	}

	val, err := i.run(sourceEval, p.Expression, env)
	if err != nil {
		req.reply(errorDescription(p.Expression, "", i.errorText(err)))
		return
	}
	req.reply(i.describe(val, p.Expression, "", p.Properties))
}

func (i *Interpreter) attributesOf(val goja.Value) *attributes {
	obj, ok := val.(*goja.Object)
	if !ok {
		return nil
	}
	return i.attrs[obj]
}

func (i *Interpreter) stringsAttr(a *attributes, name string) []string {
	if a == nil {
		return nil
	}
	v, ok := a.values[name]
	if !ok {
		return nil
	}
	if obj, isObj := v.(*goja.Object); isObj && obj.ClassName() == "Array" {
		var out []string
		for _, e := range arrayElements(obj) {
			out = append(out, e.String())
		}
		return out
	}
	return []string{v.String()}
}

func (i *Interpreter) intsAttr(a *attributes, name string) []int {
	if a == nil {
		return nil
	}
	v, ok := a.values[name]
	if !ok {
		return nil
	}
	if obj, isObj := v.(*goja.Object); isObj && obj.ClassName() == "Array" {
		var out []int
		for _, e := range arrayElements(obj) {
			out = append(out, int(e.ToInteger()))
		}
		return out
	}
	return []int{int(v.ToInteger())}
}
