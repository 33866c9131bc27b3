package inspect

// Result kinds reported by the worker
const (
	KindValue         = "value"
	KindError         = "error"
	KindPromise       = "promise"
	KindActiveBinding = "active_binding"
)

// Description is the wire form of one described value. Optional fields are
// pointers so an absent field is distinguishable from zero.
type Description struct {
	Kind       string   `json:"kind"`
	Expression string   `json:"expression,omitempty"`
	Name       string   `json:"name,omitempty"`
	Type       string   `json:"type,omitempty"`
	Classes    []string `json:"classes,omitempty"`
	Repr       string   `json:"repr,omitempty"`
	Length     *int     `json:"length,omitempty"`
	SlotCount  *int     `json:"slot_count,omitempty"`
	AttrCount  *int     `json:"attr_count,omitempty"`
	NameCount  *int     `json:"name_count,omitempty"`
	Dim        []int    `json:"dim,omitempty"`
	Flags      []string `json:"flags,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
}
