package conversion

import (
	"github.com/johndauphine/sftp-csv-tap/internal/schema"
)

// NodeKind enumerates the shapes a column schema can take.
type NodeKind int

const (
	// NodeNullOnly is a column that never held a value in the sample.
	NodeNullOnly NodeKind = iota
	// NodeScalar is a column whose values all parsed as Tag.
	NodeScalar
	// NodeScalarOrString is Tag with a plain-string fallback for stray cells.
	NodeScalarOrString
	// NodeDateTime is a date-time string with a plain-string fallback.
	NodeDateTime
)

// Node is the typed schema of one column.
type Node struct {
	Kind     NodeKind
	Tag      TypeTag
	Nullable bool
}

// DateTimeNode is the node forced onto date override columns.
func DateTimeNode() Node {
	return Node{Kind: NodeDateTime, Tag: TypeDateTime, Nullable: true}
}

// StringNode accepts any value unchanged.
func StringNode() Node {
	return Node{Kind: NodeScalar, Tag: TypeString, Nullable: true}
}

// Property renders the node as a JSON-schema property.
func (n Node) Property() *schema.Property {
	switch n.Kind {
	case NodeNullOnly:
		return &schema.Property{Type: []string{schema.TypeNull, schema.TypeString}}
	case NodeDateTime:
		return &schema.Property{AnyOf: []*schema.Property{
			{Type: []string{schema.TypeNull, schema.TypeString}, Format: schema.FormatDateTime},
			{Type: []string{schema.TypeNull, schema.TypeString}},
		}}
	}

	var types []string
	if n.Nullable {
		types = append(types, schema.TypeNull)
	}
	types = append(types, n.Tag.String())
	if n.Kind == NodeScalarOrString && n.Tag != TypeString {
		types = append(types, schema.TypeString)
	}
	return &schema.Property{Type: types}
}

// NodeFromProperty reads a node back from a catalog property. Anything
// unrecognised is treated as a plain string.
func NodeFromProperty(p *schema.Property) Node {
	if p == nil {
		return StringNode()
	}
	if p.Format == schema.FormatDateTime {
		return DateTimeNode()
	}
	for _, alt := range p.AnyOf {
		if alt != nil && alt.Format == schema.FormatDateTime {
			return DateTimeNode()
		}
	}

	nullable := p.HasType(schema.TypeNull)
	hasString := p.HasType(schema.TypeString)

	var tag TypeTag
	switch {
	case p.HasType(schema.TypeNumber):
		tag = TypeNumber
	case p.HasType(schema.TypeInteger):
		tag = TypeInteger
	case hasString:
		return Node{Kind: NodeScalar, Tag: TypeString, Nullable: nullable}
	case nullable && len(p.Type) == 1:
		return Node{Kind: NodeNullOnly, Tag: TypeNull, Nullable: true}
	default:
		return StringNode()
	}

	if hasString {
		return Node{Kind: NodeScalarOrString, Tag: tag, Nullable: nullable}
	}
	return Node{Kind: NodeScalar, Tag: tag, Nullable: nullable}
}
