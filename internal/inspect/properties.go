package inspect

// Properties selects which optional fields the worker computes for a
// description. Each bit toggles one field.
type Properties uint32

const (
	ExpressionProperty Properties = 1 << iota
	AccessorKindProperty
	TypeNameProperty
	ClassesProperty
	LengthProperty
	SlotCountProperty
	AttributeCountProperty
	NameCountProperty
	DimProperty
	FlagsProperty

	// HasChildrenProperty requests what HasChildren and HasAttributes are derived from
	HasChildrenProperty = LengthProperty | SlotCountProperty | AttributeCountProperty | NameCountProperty | FlagsProperty

	AllProperties = ExpressionProperty | AccessorKindProperty | TypeNameProperty | ClassesProperty |
		DimProperty | HasChildrenProperty
)

// Wire field names
const (
	FieldExpression     = "expression"
	FieldKind           = "kind"
	FieldType           = "type"
	FieldClasses        = "classes"
	FieldLength         = "length"
	FieldSlotCount      = "slot_count"
	FieldAttributeCount = "attr_count"
	FieldNameCount      = "name_count"
	FieldDim            = "dim"
	FieldFlags          = "flags"
)

var propertyFields = []struct {
	prop  Properties
	field string
}{
	{ExpressionProperty, FieldExpression},
	{AccessorKindProperty, FieldKind},
	{TypeNameProperty, FieldType},
	{ClassesProperty, FieldClasses},
	{LengthProperty, FieldLength},
	{SlotCountProperty, FieldSlotCount},
	{AttributeCountProperty, FieldAttributeCount},
	{NameCountProperty, FieldNameCount},
	{DimProperty, FieldDim},
	{FlagsProperty, FieldFlags},
}

// Has reports whether all bits of q are set
func (p Properties) Has(q Properties) bool {
	return p&q == q
}

// Fields returns the wire field names selected by p, in a stable order
func (p Properties) Fields() []string {
	fields := make([]string, 0, len(propertyFields))
	for _, pf := range propertyFields {
		if p.Has(pf.prop) {
			fields = append(fields, pf.field)
		}
	}
	return fields
}

// ParseFields is the inverse of Fields. Unknown names are ignored.
func ParseFields(fields []string) Properties {
	var p Properties
	for _, f := range fields {
		for _, pf := range propertyFields {
			if pf.field == f {
				p |= pf.prop
			}
		}
	}
	return p
}

// Flags are structural flags reported for a value
type Flags uint8

const (
	FlagAtomic Flags = 1 << iota
	FlagRecursive
	FlagHasParentEnv
)

// Wire names for Flags
const (
	FlagNameAtomic       = "atomic"
	FlagNameRecursive    = "recursive"
	FlagNameHasParentEnv = "has_parent_env"
)

func parseFlags(names []string) Flags {
	var f Flags
	for _, n := range names {
		switch n {
		case FlagNameAtomic:
			f |= FlagAtomic
		case FlagNameRecursive:
			f |= FlagRecursive
		case FlagNameHasParentEnv:
			f |= FlagHasParentEnv
		}
	}
	return f
}

// Names returns the wire names of the set flags
func (f Flags) Names() []string {
	var names []string
	if f&FlagAtomic != 0 {
		names = append(names, FlagNameAtomic)
	}
	if f&FlagRecursive != 0 {
		names = append(names, FlagNameRecursive)
	}
	if f&FlagHasParentEnv != 0 {
		names = append(names, FlagNameHasParentEnv)
	}
	return names
}
