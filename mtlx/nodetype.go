package mtlx

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the value kind of a property.
type Kind string

// Property kinds.
const (
	KindFloat  Kind = "float"
	KindVector Kind = "float_vector"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindString Kind = "string"
)

// Property subtypes.
const (
	SubtypeColor    = "COLOR"
	SubtypeXYZ      = "XYZ"
	SubtypeFileName = "FILE_NAME"
)

// NodeTypePrefix prefixes the ID of every node type.
const NodeTypePrefix = "hdusd.mx_"

// Property describes an editable node setting derived from a nodedef
// input or parameter.
type Property struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	Kind    Kind   `json:"kind"`
	Subtype string `json:"subtype,omitempty"`
	Size    int    `json:"size,omitempty"`
	Default any    `json:"default,omitempty"`
	Min     any    `json:"min,omitempty"`
	Max     any    `json:"max,omitempty"`
	SoftMin any    `json:"soft_min,omitempty"`
	SoftMax any    `json:"soft_max,omitempty"`
}

// NewProperty maps a nodedef input or parameter to a Property. The
// element's value becomes the default; uimin, uimax, uisoftmin and
// uisoftmax become the limits, using the first component of vectors.
func NewProperty(input *Element) (Property, error) {
	typ := input.Type()
	p := Property{
		Name:  input.Name(),
		Label: Prettify(input.Name()),
		Type:  typ,
	}

	switch {
	case typ == "float":
		p.Kind = KindFloat
	case typ == "integer":
		p.Kind = KindInt
	case typ == "boolean":
		p.Kind = KindBool
	case typ == "string":
		p.Kind = KindString
	case typ == "filename":
		p.Kind = KindString
		p.Subtype = SubtypeFileName
	case isVectorType(typ):
		size, err := vectorSize(typ)
		if err != nil {
			return Property{}, fmt.Errorf("input %s: %w", p.Name, err)
		}
		p.Kind = KindVector
		p.Size = size
		p.Subtype = SubtypeXYZ
		if strings.HasPrefix(typ, "color") {
			p.Subtype = SubtypeColor
		}
	default:
		return Property{}, fmt.Errorf("input %s: %w: %q", p.Name, ErrUnknownType, typ)
	}

	for _, attr := range []struct {
		name      string
		dst       *any
		onlyFirst bool
	}{
		{"value", &p.Default, false},
		{"uimin", &p.Min, true},
		{"uimax", &p.Max, true},
		{"uisoftmin", &p.SoftMin, true},
		{"uisoftmax", &p.SoftMax, true},
	} {
		s, ok := input.LookupAttr(attr.name)
		if !ok {
			continue
		}
		v, err := ParseValue(typ, s, attr.onlyFirst)
		if err != nil {
			return Property{}, fmt.Errorf("input %s %s: %w", p.Name, attr.name, err)
		}
		*attr.dst = v
	}

	return p, nil
}

// Socket is a node input or output.
type Socket struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Property names the Property edited through an unlinked input.
	Property string `json:"property,omitempty"`
}

// NodeType is the node synthesized from one nodedef.
type NodeType struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Node       string     `json:"node"`
	NodeDef    string     `json:"nodedef"`
	Type       string     `json:"type"`
	Properties []Property `json:"properties,omitempty"`
	Inputs     []Socket   `json:"inputs,omitempty"`
	Outputs    []Socket   `json:"outputs,omitempty"`
}

// Property returns the property with the given name.
func (nt *NodeType) Property(name string) (Property, bool) {
	for _, p := range nt.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Input returns the input socket created for the nodedef input name.
func (nt *NodeType) Input(name string) (Socket, bool) {
	label := Prettify(name)
	for _, s := range nt.Inputs {
		if s.Name == label {
			return s, true
		}
	}
	return Socket{}, false
}

// NewNodeType creates the node type of a nodedef element. Parameters of
// an unknown type are an error; inputs of an unknown type get a socket
// but no property.
func NewNodeType(nodedef *Element) (*NodeType, error) {
	if nodedef.Category() != "nodedef" {
		return nil, fmt.Errorf("%w: <%s> is not a nodedef", ErrInvalidDocument, nodedef.Category())
	}
	node := nodedef.Attr("node")
	if node == "" {
		return nil, fmt.Errorf("%w: nodedef %q has no node attribute", ErrInvalidDocument, nodedef.Name())
	}

	nt := &NodeType{
		ID:      NodeTypePrefix + node,
		Label:   Prettify(node),
		Node:    node,
		NodeDef: nodedef.Name(),
	}

	for _, param := range nodedef.Parameters() {
		p, err := NewProperty(param)
		if err != nil {
			return nil, fmt.Errorf("nodedef %s: %w", nodedef.Name(), err)
		}
		nt.setProperty(p)
	}

	inputs := nodedef.Inputs()
	for _, in := range inputs {
		p, err := NewProperty(in)
		if errors.Is(err, ErrUnknownType) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("nodedef %s: %w", nodedef.Name(), err)
		}
		nt.setProperty(p)
	}

	for _, in := range inputs {
		s := Socket{Name: Prettify(in.Name()), Type: in.Type()}
		if _, ok := nt.Property(strings.ToLower(in.Name())); ok {
			s.Property = strings.ToLower(in.Name())
		}
		nt.Inputs = append(nt.Inputs, s)
	}

	for _, out := range nodedef.Outputs() {
		nt.Outputs = append(nt.Outputs, Socket{Name: Prettify(out.Name()), Type: out.Type()})
	}
	// Single-output nodedefs may declare their type on the nodedef itself.
	if len(nt.Outputs) == 0 && nodedef.Type() != "" {
		nt.Outputs = append(nt.Outputs, Socket{Name: "Out", Type: nodedef.Type()})
	}
	if len(nt.Outputs) > 0 {
		nt.Type = nt.Outputs[0].Type
	}

	return nt, nil
}

// setProperty adds p, replacing a property of the same name.
func (nt *NodeType) setProperty(p Property) {
	for i := range nt.Properties {
		if nt.Properties[i].Name == p.Name {
			nt.Properties[i] = p
			return
		}
	}
	nt.Properties = append(nt.Properties, p)
}
