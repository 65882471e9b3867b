package conversion

import (
	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

// Observation accumulates what a column's sampled values looked like.
type Observation struct {
	// Tag is the widest parseable (non-string) tag seen, TypeNull if none.
	Tag TypeTag
	// Nullable is set once an empty or missing value is seen.
	Nullable bool
	// Fallback is set once a value failed to parse as anything but a string.
	Fallback bool
}

// Observe folds one raw value into the observation.
func (o *Observation) Observe(raw *string) {
	switch tag := Classify(raw); tag {
	case TypeNull:
		o.Nullable = true
	case TypeString:
		o.Fallback = true
	default:
		o.Tag = Widen(o.Tag, tag)
	}
}

// Merge returns the least upper bound of two observations of the same column.
func (o Observation) Merge(other Observation) Observation {
	return Observation{
		Tag:      Widen(o.Tag, other.Tag),
		Nullable: o.Nullable || other.Nullable,
		Fallback: o.Fallback || other.Fallback,
	}
}

// Effective collapses the observation onto the lattice: the single tag that
// describes every value seen.
func (o Observation) Effective() TypeTag {
	if o.Fallback {
		return TypeString
	}
	return o.Tag
}

// Node turns the observation into a column schema node.
func (o Observation) Node() Node {
	switch {
	case o.Tag == TypeNull && !o.Fallback:
		return Node{Kind: NodeNullOnly, Tag: TypeNull, Nullable: true}
	case o.Tag == TypeNull:
		return Node{Kind: NodeScalar, Tag: TypeString, Nullable: o.Nullable}
	case o.Tag == TypeDateTime:
		return DateTimeNode()
	case o.Fallback:
		return Node{Kind: NodeScalarOrString, Tag: o.Tag, Nullable: o.Nullable}
	default:
		return Node{Kind: NodeScalar, Tag: o.Tag, Nullable: o.Nullable}
	}
}

// ObserveSamples builds one observation per column across all sampled rows.
// A column missing from a row counts as null for that row.
func ObserveSamples(samples []map[string]*string) map[string]*Observation {
	columns := make(map[string]*Observation)
	for _, row := range samples {
		for name := range row {
			if _, ok := columns[name]; !ok {
				columns[name] = &Observation{}
			}
		}
	}
	for _, row := range samples {
		for name, obs := range columns {
			obs.Observe(row[name])
		}
	}
	return columns
}

// GenerateSchema infers a property per column from the sampled rows.
// Columns listed in dateOverrides are declared as date-times regardless of
// their contents.
func GenerateSchema(samples []map[string]*string, dateOverrides []string) map[string]*schema.Property {
	overrides := make(map[string]bool, len(dateOverrides))
	for _, name := range dateOverrides {
		overrides[name] = true
	}

	props := make(map[string]*schema.Property)
	for name, obs := range ObserveSamples(samples) {
		if overrides[name] {
			props[name] = DateTimeNode().Property()
			continue
		}
		props[name] = obs.Node().Property()
	}
	return props
}
