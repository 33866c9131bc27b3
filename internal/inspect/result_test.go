package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/GriffinCanCode/rhost/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name   string
	params any
}

// fakeRequester answers from a table keyed by request name and counts calls
type fakeRequester struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]json.RawMessage
	errs      map[string]error
}

func (f *fakeRequester) Request(_ context.Context, name string, params any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name, params})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.responses[name], nil
}

func (f *fakeRequester) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func mustDecode(t *testing.T, req Requester, body string) Result {
	t.Helper()
	return Decode(json.RawMessage(body), Context{Requester: req, Properties: AllProperties})
}

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind string
	}{
		{"value", `{"kind":"value","expression":"x","type":"numeric","repr":"2","length":1,"flags":["atomic"]}`, KindValue},
		{"error", `{"kind":"error","expression":"stop('boom')","error":"boom"}`, KindError},
		{"promise", `{"kind":"promise","expression":"p","code":"1 + 1"}`, KindPromise},
		{"active binding", `{"kind":"active_binding","expression":"b"}`, KindActiveBinding},
		{"unknown kind", `{"kind":"mystery","expression":"m"}`, KindError},
		{"malformed", `{"kind":`, KindError},
		{"empty", ``, KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Decode(json.RawMessage(tt.body), Context{Expression: "fallback"})
			assert.Equal(t, tt.kind, r.Kind())
			assert.NotEmpty(t, r.Expression())
		})
	}
}

func TestDecodeClassification(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		hasChildren bool
		hasAttrs    bool
		isBoolean   bool
		boolValue   bool
		isCallable  bool
	}{
		{"scalar", `{"kind":"value","type":"numeric","repr":"2","length":1,"flags":["atomic"]}`, false, false, false, false, false},
		{"vector", `{"kind":"value","type":"numeric","length":3,"flags":["atomic"]}`, true, false, false, false, false},
		{"empty list", `{"kind":"value","type":"list","length":0,"flags":["recursive"]}`, false, false, false, false, false},
		{"list", `{"kind":"value","type":"list","length":1,"flags":["recursive"]}`, true, false, false, false, false},
		{"named", `{"kind":"value","type":"environment","name_count":2}`, true, false, false, false, false},
		{"slots", `{"kind":"value","type":"S4","slot_count":1}`, true, false, false, false, false},
		{"attributes", `{"kind":"value","type":"numeric","length":1,"attr_count":1,"flags":["atomic"]}`, false, true, false, false, false},
		{"true", `{"kind":"value","type":"logical","repr":"TRUE","length":1,"flags":["atomic"]}`, false, false, true, true, false},
		{"false", `{"kind":"value","type":"logical","repr":"FALSE","length":1,"flags":["atomic"]}`, false, false, true, false, false},
		{"closure", `{"kind":"value","type":"closure","repr":"function(x) x","length":1}`, false, false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := Decode(json.RawMessage(tt.body), Context{}).(*Value)
			require.True(t, ok)
			assert.Equal(t, tt.hasChildren, v.HasChildren)
			assert.Equal(t, tt.hasAttrs, v.HasAttributes)
			assert.Equal(t, tt.isBoolean, v.IsBoolean)
			assert.Equal(t, tt.boolValue, v.BoolValue)
			assert.Equal(t, tt.isCallable, v.IsCallable)
		})
	}
}

func TestChildrenSingleRoundTrip(t *testing.T) {
	req := &fakeRequester{responses: map[string]json.RawMessage{
		transport.RequestChildren: json.RawMessage(`[
			{"kind":"value","expression":"x[[1]]","name":"[[1]]","type":"numeric","repr":"1","length":1,"flags":["atomic"]},
			{"kind":"value","expression":"x[[2]]","name":"[[2]]","type":"character","repr":"\"a\"","length":1,"flags":["atomic"]}
		]`),
	}}
	v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"list","length":2,"flags":["recursive"]}`).(*Value)

	first, err := v.Children(context.Background())
	require.NoError(t, err)
	second, err := v.Children(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, req.count(transport.RequestChildren))
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, "x[[2]]", first[1].Expression())
	assert.True(t, v.IsLoaded())
}

func TestChildrenWithoutChildrenSkipsRoundTrip(t *testing.T) {
	req := &fakeRequester{}
	v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"numeric","repr":"2","length":1,"flags":["atomic"]}`).(*Value)

	kids, err := v.Children(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, kids)
	assert.Empty(t, kids)
	assert.Empty(t, req.calls)
}

func TestChildrenAttributesFirst(t *testing.T) {
	req := &fakeRequester{responses: map[string]json.RawMessage{
		transport.RequestEvaluate: json.RawMessage(`{"kind":"value","type":"list","length":1,"name_count":1,"flags":["recursive"]}`),
		transport.RequestChildren: json.RawMessage(`[{"kind":"value","expression":"x[[1]]","type":"numeric","length":1,"flags":["atomic"]}]`),
	}}
	v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"numeric","length":2,"attr_count":1,"flags":["atomic"]}`).(*Value)

	kids, err := v.Children(context.Background())
	require.NoError(t, err)
	require.Len(t, kids, 2)

	assert.True(t, kids[0].Synthetic())
	assert.Equal(t, AttributesName, kids[0].Name())
	assert.Equal(t, "attributes(x)", kids[0].Expression())
	assert.False(t, kids[1].Synthetic())
}

func TestChildrenRoundTripsPerSource(t *testing.T) {
	attrs := json.RawMessage(`{"kind":"value","type":"list","length":1,"name_count":1,"flags":["recursive"]}`)
	members := json.RawMessage(`[{"kind":"value","expression":"x[[1]]","type":"numeric","length":1,"flags":["atomic"]}]`)

	tests := []struct {
		name         string
		value        string
		wantKids     int
		wantEvals    int
		wantChildren int
	}{
		{"members only", `{"kind":"value","expression":"x","type":"numeric","length":2,"flags":["atomic"]}`, 1, 0, 1},
		{"attributes only", `{"kind":"value","expression":"x","type":"numeric","length":1,"attr_count":1,"flags":["atomic"]}`, 1, 1, 0},
		{"both", `{"kind":"value","expression":"x","type":"numeric","length":2,"attr_count":1,"flags":["atomic"]}`, 2, 1, 1},
		{"neither", `{"kind":"value","expression":"x","type":"numeric","length":1,"flags":["atomic"]}`, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &fakeRequester{responses: map[string]json.RawMessage{
				transport.RequestEvaluate: attrs,
				transport.RequestChildren: members,
			}}
			v := mustDecode(t, req, tt.value).(*Value)

			for range 2 {
				kids, err := v.Children(context.Background())
				require.NoError(t, err)
				assert.Len(t, kids, tt.wantKids)
			}
			assert.Equal(t, tt.wantEvals, req.count(transport.RequestEvaluate))
			assert.Equal(t, tt.wantChildren, req.count(transport.RequestChildren))
		})
	}
}

func TestChildrenAttributesFailureIsNoPseudoChild(t *testing.T) {
	tests := []struct {
		name string
		req  *fakeRequester
	}{
		{"error result", &fakeRequester{responses: map[string]json.RawMessage{
			transport.RequestEvaluate: json.RawMessage(`{"kind":"error","error":"no attributes"}`),
			transport.RequestChildren: json.RawMessage(`[{"kind":"value","type":"numeric"}]`),
		}}},
		{"worker rejection", &fakeRequester{
			responses: map[string]json.RawMessage{
				transport.RequestChildren: json.RawMessage(`[{"kind":"value","type":"numeric"}]`),
			},
			errs: map[string]error{
				transport.RequestEvaluate: &transport.ProtocolError{Request: "evaluate", Code: transport.CodeBadRequest},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := mustDecode(t, tt.req, `{"kind":"value","expression":"x","type":"numeric","length":2,"attr_count":1,"flags":["atomic"]}`).(*Value)

			kids, err := v.Children(context.Background())
			require.NoError(t, err)
			require.Len(t, kids, 1)
			assert.False(t, kids[0].Synthetic())
		})
	}
}

func TestChildrenMalformedReplyIsEmpty(t *testing.T) {
	req := &fakeRequester{responses: map[string]json.RawMessage{
		transport.RequestChildren: json.RawMessage(`{"not":"a list"}`),
	}}
	v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"list","length":2,"flags":["recursive"]}`).(*Value)

	kids, err := v.Children(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, kids)
	assert.Empty(t, kids)
}

func TestChildrenTransportFailureNotCached(t *testing.T) {
	req := &fakeRequester{errs: map[string]error{
		transport.RequestChildren: transport.ErrTransport,
	}}
	v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"list","length":2,"flags":["recursive"]}`).(*Value)

	kids, err := v.Children(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.NotNil(t, kids)
	assert.False(t, v.IsLoaded())
}

func TestSetValue(t *testing.T) {
	t.Run("updated value", func(t *testing.T) {
		req := &fakeRequester{responses: map[string]json.RawMessage{
			transport.RequestSetValue: json.RawMessage(`{"kind":"value","expression":"x","type":"numeric","repr":"5","length":1}`),
		}}
		v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"numeric","repr":"2","length":1}`)

		updated, err := v.SetValue(context.Background(), "5")
		require.NoError(t, err)
		require.IsType(t, &Value{}, updated)
		assert.Equal(t, "5", updated.(*Value).ValueText)

		params := req.calls[0].params.(transport.SetValueParams)
		assert.Equal(t, "x", params.Expression)
		assert.Equal(t, "5", params.Value)
	})

	t.Run("rejected assignment", func(t *testing.T) {
		req := &fakeRequester{errs: map[string]error{
			transport.RequestSetValue: &transport.ProtocolError{Request: "set_value", Code: transport.CodeBadRequest, Message: "read-only binding"},
		}}
		v := mustDecode(t, req, `{"kind":"active_binding","expression":"b"}`)

		updated, err := v.SetValue(context.Background(), "1")
		require.NoError(t, err)
		e, ok := updated.(*Error)
		require.True(t, ok)
		assert.Contains(t, e.ErrorText, "read-only")
	})

	t.Run("cancelled", func(t *testing.T) {
		req := &fakeRequester{errs: map[string]error{
			transport.RequestSetValue: context.Canceled,
		}}
		v := mustDecode(t, req, `{"kind":"value","expression":"x","type":"numeric"}`)

		_, err := v.SetValue(context.Background(), "1")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestPropertiesFields(t *testing.T) {
	assert.Equal(t, []string{FieldExpression, FieldType}, (ExpressionProperty | TypeNameProperty).Fields())
	assert.Equal(t, AllProperties, ParseFields(AllProperties.Fields()))
	assert.True(t, AllProperties.Has(HasChildrenProperty))
	assert.Empty(t, Properties(0).Fields())
}
