package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/rhost/internal/transport"
)

// Requester issues worker requests on behalf of a result.
// Implementations acquire whatever exclusive access the worker needs.
type Requester interface {
	Request(ctx context.Context, name string, params any) (json.RawMessage, error)
}

// Result is one described value. The concrete type is one of *Value,
// *Error, *Promise or *ActiveBinding.
type Result interface {
	// Expression is the expression that produced the result
	Expression() string
	// Name is the display name, usually the last accessor of Expression
	Name() string
	// Kind is the wire kind
	Kind() string
	// Synthetic reports a pseudo-child such as the attributes collection
	Synthetic() bool
	// Frame is the stack frame the result was evaluated in, or nil for global
	Frame() *int
	// SetValue assigns text to the originating binding. A rejected
	// assignment yields an *Error result, not an error.
	SetValue(ctx context.Context, text string) (Result, error)

	sealed()
}

type header struct {
	expression string
	name       string
	frame      *int
	props      Properties
	requester  Requester
	synthetic  bool
}

func (h *header) Expression() string { return h.expression }
func (h *header) Name() string       { return h.name }
func (h *header) Synthetic() bool    { return h.synthetic }
func (h *header) Frame() *int        { return h.frame }
func (h *header) sealed()            {}

// Value is a successfully described value
type Value struct {
	header

	TypeName       string
	Classes        []string
	ValueText      string
	Length         int
	SlotCount      int
	AttributeCount int
	NameCount      int
	Dim            []int
	Flags          Flags

	HasChildren   bool
	HasAttributes bool

	IsBoolean  bool
	BoolValue  bool
	IsCallable bool

	childMu  sync.Mutex
	children []Result
	loaded   bool
}

// Error is an expression that raised an error, or a description that could not be decoded
type Error struct {
	header
	ErrorText string
}

// Promise is a binding whose expression has not been forced
type Promise struct {
	header
	Code string
}

// ActiveBinding is a binding whose reads run interpreter code
type ActiveBinding struct {
	header
}

func (*Value) Kind() string         { return KindValue }
func (*Error) Kind() string         { return KindError }
func (*Promise) Kind() string       { return KindPromise }
func (*ActiveBinding) Kind() string { return KindActiveBinding }

// Context carries what decoded results need for follow-up requests
type Context struct {
	Requester  Requester
	Frame      *int
	Properties Properties
	// Expression and Name fill in what the description omits
	Expression string
	Name       string
	Synthetic  bool
}

// AttributesName is the display name of the attributes pseudo-child
const AttributesName = "attributes()"

// Decode builds a result from a worker description. Malformed input yields
// an *Error so callers always have something to render.
func Decode(raw json.RawMessage, c Context) Result {
	var d Description
	if len(raw) == 0 {
		return decodeError(c, "empty description")
	}
	if err := transport.Unmarshal(raw, &d); err != nil {
		return decodeError(c, fmt.Sprintf("malformed description: %v", err))
	}
	return FromDescription(d, c)
}

// FromDescription builds a result from an already parsed description
func FromDescription(d Description, c Context) Result {
	h := header{
		expression: d.Expression,
		name:       d.Name,
		frame:      c.Frame,
		props:      c.Properties,
		requester:  c.Requester,
		synthetic:  c.Synthetic,
	}
	if h.expression == "" {
		h.expression = c.Expression
	}
	if h.name == "" {
		h.name = c.Name
	}
	if h.name == "" {
		h.name = h.expression
	}

	switch d.Kind {
	case KindValue:
		return newValue(h, d)
	case KindError:
		return &Error{header: h, ErrorText: d.Error}
	case KindPromise:
		return &Promise{header: h, Code: d.Code}
	case KindActiveBinding:
		return &ActiveBinding{header: h}
	default:
		return &Error{header: h, ErrorText: fmt.Sprintf("unknown result kind %q", d.Kind)}
	}
}

func decodeError(c Context, text string) *Error {
	name := c.Name
	if name == "" {
		name = c.Expression
	}
	return &Error{
		header: header{
			expression: c.Expression,
			name:       name,
			frame:      c.Frame,
			props:      c.Properties,
			requester:  c.Requester,
			synthetic:  c.Synthetic,
		},
		ErrorText: text,
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func newValue(h header, d Description) *Value {
	v := &Value{
		header:         h,
		TypeName:       d.Type,
		Classes:        d.Classes,
		ValueText:      d.Repr,
		Length:         deref(d.Length),
		SlotCount:      deref(d.SlotCount),
		AttributeCount: deref(d.AttrCount),
		NameCount:      deref(d.NameCount),
		Dim:            d.Dim,
		Flags:          parseFlags(d.Flags),
	}

	v.HasChildren = v.SlotCount > 0 ||
		v.NameCount > 0 ||
		(v.Flags&FlagRecursive != 0 && v.Length > 0) ||
		(v.Flags&FlagAtomic != 0 && v.Length > 1)
	v.HasAttributes = v.AttributeCount > 0

	switch v.TypeName {
	case "logical":
		if v.Length == 1 {
			v.IsBoolean = true
			v.BoolValue = v.ValueText == "TRUE"
		}
	case "closure", "builtin", "special":
		v.IsCallable = true
	}

	return v
}

// IsLoaded reports whether Children has already fetched
func (v *Value) IsLoaded() bool {
	v.childMu.Lock()
	defer v.childMu.Unlock()
	return v.loaded
}

// Children returns the described members of the value. The first call makes
// one children round trip when HasChildren is set and one attributes(expr)
// evaluation when HasAttributes is set; later calls return the cached
// sequence. The attributes pseudo-child comes first, so a value without
// members but with attributes still has one child.
//
// The returned slice is never nil. A cancelled or failed round trip returns
// an error and is not cached; a worker that cannot enumerate the value, or a
// reply that does not decode, caches an empty sequence.
func (v *Value) Children(ctx context.Context) ([]Result, error) {
	v.childMu.Lock()
	defer v.childMu.Unlock()

	if v.loaded {
		return v.children, nil
	}
	if !v.HasChildren && !v.HasAttributes {
		v.children = []Result{}
		v.loaded = true
		return v.children, nil
	}
	if v.requester == nil {
		return []Result{}, errors.New("inspect: value has no requester")
	}

	children := make([]Result, 0, v.Length+1)

	if v.HasAttributes {
		attrs, err := v.attributes(ctx)
		if err != nil {
			return []Result{}, err
		}
		if attrs != nil {
			children = append(children, attrs)
		}
	}

	if v.HasChildren {
		members, err := v.members(ctx)
		if err != nil {
			return []Result{}, err
		}
		children = append(children, members...)
	}

	v.children = children
	v.loaded = true
	return v.children, nil
}

// attributes describes attributes(expr). Only cancellation and transport
// failures are errors; anything else means no pseudo-child.
func (v *Value) attributes(ctx context.Context) (Result, error) {
	expr := "attributes(" + v.expression + ")"
	raw, err := v.requester.Request(ctx, transport.RequestEvaluate, transport.EvaluateParams{
		Expression: expr,
		Frame:      v.frame,
		Describe:   true,
		Name:       AttributesName,
		Properties: v.props.Fields(),
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, nil
	}

	attrs := Decode(raw, Context{
		Requester:  v.requester,
		Frame:      v.frame,
		Properties: v.props,
		Expression: expr,
		Name:       AttributesName,
		Synthetic:  true,
	})
	if _, ok := attrs.(*Value); !ok {
		return nil, nil
	}
	return attrs, nil
}

func (v *Value) members(ctx context.Context) ([]Result, error) {
	raw, err := v.requester.Request(ctx, transport.RequestChildren, transport.ChildrenParams{
		Expression: v.expression,
		Frame:      v.frame,
		Properties: v.props.Fields(),
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, nil
	}

	var items []json.RawMessage
	if err := transport.Unmarshal(raw, &items); err != nil {
		return nil, nil
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		results = append(results, Decode(item, Context{
			Requester:  v.requester,
			Frame:      v.frame,
			Properties: v.props,
		}))
	}
	return results, nil
}

// SetValue assigns text to the binding named by the result's expression
func (h *header) SetValue(ctx context.Context, text string) (Result, error) {
	if h.requester == nil {
		return nil, errors.New("inspect: result has no requester")
	}

	c := Context{
		Requester:  h.requester,
		Frame:      h.frame,
		Properties: h.props,
		Expression: h.expression,
		Name:       h.name,
	}

	raw, err := h.requester.Request(ctx, transport.RequestSetValue, transport.SetValueParams{
		Expression: h.expression,
		Frame:      h.frame,
		Value:      text,
		Properties: h.props.Fields(),
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return decodeError(c, err.Error()), nil
	}

	return Decode(raw, c), nil
}

// fatal separates failures that end the operation from worker-side
// rejections, which are reported as results
func fatal(err error) bool {
	var perr *transport.ProtocolError
	if !errors.As(err, &perr) {
		return true
	}
	return perr.Code == transport.CodeCancelled
}
