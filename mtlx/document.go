// Package mtlx reads MaterialX documents and turns their node definitions
// into node types: property descriptors plus input and output sockets.
package mtlx

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
)

// ExportVersion is the MaterialX version written by Encode.
const ExportVersion = "1.38"

// MinVersion is the oldest document version Load accepts.
const MinVersion = "1.37"

var versionConstraint = func() *semver.Constraints {
	c, err := semver.NewConstraint(">= " + MinVersion)
	if err != nil {
		panic(err)
	}
	return c
}()

// Element is a generic MaterialX element. The category is the XML tag;
// name, type and every other setting are attributes.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*Element `xml:",any"`
}

// NewElement creates an element of the given category and name.
func NewElement(category, name string) *Element {
	e := &Element{XMLName: xml.Name{Local: category}}
	if name != "" {
		e.SetAttr("name", name)
	}
	return e
}

// Category returns the element tag, e.g. "nodedef" or "standard_surface".
func (e *Element) Category() string { return e.XMLName.Local }

// Name returns the name attribute.
func (e *Element) Name() string { return e.Attr("name") }

// Type returns the type attribute.
func (e *Element) Type() string { return e.Attr("type") }

// Attr returns the value of an attribute, or "" if it is not set.
func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr(name)
	return v
}

// LookupAttr returns the value of an attribute and whether it is set.
func (e *Element) LookupAttr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, replacing an existing value.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// ChildrenOf returns the children of the given category in document order.
func (e *Element) ChildrenOf(category string) []*Element {
	var out []*Element
	for _, c := range e.Children {
		if c.Category() == category {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// AddChild appends a new child element and returns it.
func (e *Element) AddChild(category, name string) *Element {
	c := NewElement(category, name)
	e.Children = append(e.Children, c)
	return c
}

// Inputs returns the input children.
func (e *Element) Inputs() []*Element { return e.ChildrenOf("input") }

// Parameters returns the parameter children (MaterialX 1.37 and older).
func (e *Element) Parameters() []*Element { return e.ChildrenOf("parameter") }

// Outputs returns the output children.
func (e *Element) Outputs() []*Element { return e.ChildrenOf("output") }

// Document is a parsed MaterialX document.
type Document struct {
	Root    *Element
	Version *semver.Version
}

// NewDocument creates an empty document of ExportVersion.
func NewDocument() *Document {
	root := NewElement("materialx", "")
	root.SetAttr("version", ExportVersion)
	return &Document{Root: root, Version: semver.MustParse(ExportVersion)}
}

// Load parses a MaterialX document. The version attribute must be at
// least MinVersion.
func Load(r io.Reader) (*Document, error) {
	var root Element
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if root.Category() != "materialx" {
		return nil, fmt.Errorf("%w: root element is <%s>, want <materialx>", ErrInvalidDocument, root.Category())
	}

	raw, ok := root.LookupAttr("version")
	if !ok {
		return nil, fmt.Errorf("%w: missing version attribute", ErrUnsupportedVersion)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedVersion, raw, err)
	}
	if !versionConstraint.Check(v) {
		return nil, fmt.Errorf("%w: %s is older than %s", ErrUnsupportedVersion, raw, MinVersion)
	}

	return &Document{Root: &root, Version: v}, nil
}

// LoadFile parses the MaterialX document at path.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Encode writes the document as indented XML, stamped with ExportVersion.
func (d *Document) Encode(w io.Writer) error {
	root := *d.Root
	root.Attrs = append([]xml.Attr(nil), d.Root.Attrs...)
	root.SetAttr("version", ExportVersion)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(&root); err != nil {
		return fmt.Errorf("mtlx: encoding document: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// NodeDefs returns the node definitions of the document.
func (d *Document) NodeDefs() []*Element {
	return d.Root.ChildrenOf("nodedef")
}

// NodeDef returns the node definition with the given name, or nil.
func (d *Document) NodeDef(name string) *Element {
	for _, nd := range d.NodeDefs() {
		if nd.Name() == name {
			return nd
		}
	}
	return nil
}

// Element categories that are not node instances.
var nonNodeCategories = map[string]bool{
	"nodedef":        true,
	"nodegraph":      true,
	"implementation": true,
	"typedef":        true,
	"unittypedef":    true,
	"unitdef":        true,
	"targetdef":      true,
	"look":           true,
	"lookgroup":      true,
	"collection":     true,
	"geominfo":       true,
	"propertyset":    true,
	"variantset":     true,
	"backdrop":       true,
	"input":          true,
	"output":         true,
	"token":          true,
}

// Nodes returns the top-level node instances of the document.
func (d *Document) Nodes() []*Element {
	var out []*Element
	for _, c := range d.Root.Children {
		if c.XMLName.Space == "" && !nonNodeCategories[c.Category()] {
			out = append(out, c)
		}
	}
	return out
}

// Materials returns the surfacematerial nodes of the document.
func (d *Document) Materials() []*Element {
	var out []*Element
	for _, n := range d.Nodes() {
		if n.Category() == "surfacematerial" {
			out = append(out, n)
		}
	}
	return out
}
