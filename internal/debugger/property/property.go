// Package property adapts evaluation results to the flat records a
// debugger variables view displays.
package property

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/rhost/internal/inspect"
	"github.com/bytedance/sonic"
)

// Fields selects which parts of a Record are filled
type Fields uint8

const (
	FullNameField Fields = 1 << iota
	NameField
	TypeField
	ValueField
	AttribField

	AllFields = FullNameField | NameField | TypeField | ValueField | AttribField
)

// Attrib describes how a record should be shown
type Attrib uint16

const (
	Expandable Attrib = 1 << iota
	Boolean
	BooleanTrue
	Method
	RawString
	Error
	SideEffect
	Property
	Virtual
)

var attribNames = []struct {
	flag Attrib
	name string
}{
	{Expandable, "expandable"},
	{Boolean, "boolean"},
	{BooleanTrue, "boolean_true"},
	{Method, "method"},
	{RawString, "raw_string"},
	{Error, "error"},
	{SideEffect, "side_effect"},
	{Property, "property"},
	{Virtual, "virtual"},
}

// Has reports whether all bits of b are set
func (a Attrib) Has(b Attrib) bool { return a&b == b }

// Names returns the set flags in declaration order
func (a Attrib) Names() []string {
	names := []string{}
	for _, an := range attribNames {
		if a.Has(an.flag) {
			names = append(names, an.name)
		}
	}
	return names
}

func (a Attrib) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(a.Names())
}

// UnmarshalJSON parses the flag names written by MarshalJSON
func (a *Attrib) UnmarshalJSON(data []byte) error {
	var names []string
	if err := sonic.Unmarshal(data, &names); err != nil {
		return err
	}

	var out Attrib
next:
	for _, n := range names {
		for _, an := range attribNames {
			if an.name == n {
				out |= an.flag
				continue next
			}
		}
		return fmt.Errorf("unknown attribute %q", n)
	}
	*a = out
	return nil
}

// Record is the display form of one result
type Record struct {
	FullName   string `json:"full_name,omitempty"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Value      string `json:"value,omitempty"`
	Attributes Attrib `json:"attributes"`
}

// SetValueError carries the interpreter's reason for rejecting an assignment
type SetValueError struct {
	Text string
}

func (e *SetValueError) Error() string { return "cannot set value: " + e.Text }

// ErrNotSettable is returned when the result has no expression to assign to
var ErrNotSettable = errors.New("value is not settable")

// Item wraps one result. Synthetic items, such as the attributes
// pseudo-child, are shown as virtual.
type Item struct {
	result    inspect.Result
	synthetic bool
}

// New wraps r
func New(r inspect.Result, synthetic bool) *Item {
	return &Item{result: r, synthetic: synthetic || r.Synthetic()}
}

// Result returns the wrapped result
func (it *Item) Result() inspect.Result { return it.result }

// Info builds the record for the requested fields
func (it *Item) Info(fields Fields) Record {
	var rec Record
	if fields&FullNameField != 0 {
		rec.FullName = it.result.Expression()
	}
	if fields&NameField != 0 {
		rec.Name = it.result.Name()
	}
	if fields&TypeField != 0 {
		rec.Type = typeText(it.result)
	}
	if fields&ValueField != 0 {
		rec.Value = valueText(it.result)
	}
	if fields&AttribField != 0 {
		rec.Attributes = it.attrib()
	}
	return rec
}

func typeText(r inspect.Result) string {
	switch v := r.(type) {
	case *inspect.Value:
		if len(v.Classes) == 0 {
			return v.TypeName
		}
		return v.TypeName + " (" + strings.Join(v.Classes, ", ") + ")"
	case *inspect.Promise:
		return "<promise>"
	case *inspect.ActiveBinding:
		return "<active binding>"
	}
	return ""
}

func valueText(r inspect.Result) string {
	switch v := r.(type) {
	case *inspect.Value:
		return v.ValueText
	case *inspect.Promise:
		return v.Code
	case *inspect.Error:
		return v.ErrorText
	}
	return ""
}

func (it *Item) attrib() Attrib {
	var a Attrib
	if it.synthetic {
		a |= Method | Virtual
	}

	switch v := it.result.(type) {
	case *inspect.Value:
		a |= RawString
		if v.HasChildren || v.HasAttributes {
			a |= Expandable
		}
		if v.IsBoolean {
			a |= Boolean
			if v.BoolValue {
				a |= BooleanTrue
			}
		}
		if v.IsCallable {
			a |= Method
		}
	case *inspect.Error:
		a |= Error
	case *inspect.Promise:
		a |= SideEffect
	case *inspect.ActiveBinding:
		a |= Property | SideEffect
	}
	return a
}

// Children wraps the result's children. Only values have children.
func (it *Item) Children(ctx context.Context) ([]*Item, error) {
	v, ok := it.result.(*inspect.Value)
	if !ok {
		return []*Item{}, nil
	}
	kids, err := v.Children(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, len(kids))
	for k, r := range kids {
		items[k] = New(r, false)
	}
	return items, nil
}

// SetValue assigns text to the result's expression. A rejected assignment
// returns *SetValueError; on success the item shows the new value.
func (it *Item) SetValue(ctx context.Context, text string) error {
	if it.result.Expression() == "" || it.synthetic {
		return ErrNotSettable
	}
	updated, err := it.result.SetValue(ctx, text)
	if err != nil {
		return err
	}
	if e, ok := updated.(*inspect.Error); ok {
		return &SetValueError{Text: e.ErrorText}
	}
	it.result = updated
	return nil
}
