// Package stage models the part of a USD stage that material assignment
// touches: a prim hierarchy with types, attributes and material binding
// relationships. Stages are read from and written to YAML files.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Prim types used by material assignment.
const (
	TypeMesh     = "Mesh"
	TypeScope    = "Scope"
	TypeMaterial = "Material"
	TypeXform    = "Xform"
)

// Sentinel errors for stage operations.
var (
	ErrInvalidPath  = errors.New("stage: invalid prim path")
	ErrNotFound     = errors.New("stage: prim not found")
	ErrNoParent     = errors.New("stage: parent prim not found")
	ErrTypeConflict = errors.New("stage: prim already defined with another type")
	ErrNotMaterial  = errors.New("stage: binding target is not a Material")
)

// Prim is a named node of the stage hierarchy.
type Prim struct {
	Path       string            `json:"path"`
	Type       string            `json:"type,omitempty"`
	Binding    string            `json:"material_binding,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Name returns the last path segment.
func (p *Prim) Name() string {
	return p.Path[strings.LastIndexByte(p.Path, '/')+1:]
}

func (p *Prim) clone() *Prim {
	c := *p
	if p.Attributes != nil {
		c.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Stage is an ordered prim hierarchy below the pseudo-root "/". Prims are
// kept in depth-first traversal order. A Stage is not safe for concurrent
// modification.
type Stage struct {
	prims []*Prim
	index map[string]*Prim
}

// New creates an empty stage.
func New() *Stage {
	return &Stage{index: make(map[string]*Prim)}
}

// stageFile is the YAML layout of a stage.
type stageFile struct {
	Prims []*Prim `json:"prims"`
}

// Load reads a stage from YAML. Parents must be listed before their
// children.
func Load(r io.Reader) (*Stage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var f stageFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("stage: parsing stage: %w", err)
	}

	s := New()
	for _, p := range f.Prims {
		if p == nil {
			continue
		}
		prim, err := s.Define(p.Path, p.Type)
		if err != nil {
			return nil, err
		}
		prim.Binding = p.Binding
		for k, v := range p.Attributes {
			prim.SetAttribute(k, v)
		}
	}
	return s, nil
}

// LoadFile reads the stage stored at path.
func LoadFile(path string) (*Stage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes the stage as YAML.
func (s *Stage) Save(w io.Writer) error {
	prims := s.prims
	if prims == nil {
		prims = []*Prim{}
	}
	data, err := yaml.Marshal(stageFile{Prims: prims})
	if err != nil {
		return fmt.Errorf("stage: encoding stage: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// SetAttribute sets a string attribute on the prim.
func (p *Prim) SetAttribute(name, value string) {
	if p.Attributes == nil {
		p.Attributes = make(map[string]string)
	}
	p.Attributes[name] = value
}

// checkPath validates an absolute prim path other than the pseudo-root.
func checkPath(path string) error {
	if !strings.HasPrefix(path, "/") || path == "/" {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" || ValidIdentifier(seg) != seg {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// parentPath returns the parent of path; the parent of a top-level prim
// is "/".
func parentPath(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "/"
	}
	return path[:i]
}

// isDescendant reports whether path lies strictly below ancestor.
func isDescendant(path, ancestor string) bool {
	if ancestor == "/" {
		return path != "/"
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// childPath joins a prim name onto a parent path.
func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// Define returns the prim at path, creating it with typ if needed. The
// parent must exist. Defining an existing prim is a no-op when typ is
// empty or matches; an untyped prim takes typ.
func (s *Stage) Define(path, typ string) (*Prim, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	if p, ok := s.index[path]; ok {
		switch {
		case typ == "" || p.Type == typ:
		case p.Type == "":
			p.Type = typ
		default:
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrTypeConflict, path, p.Type, typ)
		}
		return p, nil
	}

	parent := parentPath(path)
	at := len(s.prims)
	if parent != "/" {
		i := s.position(parent)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoParent, parent)
		}
		// Insert after the parent's last descendant
		at = i + 1
		for at < len(s.prims) && isDescendant(s.prims[at].Path, parent) {
			at++
		}
	}

	p := &Prim{Path: path, Type: typ}
	s.prims = append(s.prims, nil)
	copy(s.prims[at+1:], s.prims[at:])
	s.prims[at] = p
	s.index[path] = p
	return p, nil
}

// position returns the traversal index of path, or -1.
func (s *Stage) position(path string) int {
	for i, p := range s.prims {
		if p.Path == path {
			return i
		}
	}
	return -1
}

// Prim returns the prim at path.
func (s *Stage) Prim(path string) (*Prim, bool) {
	p, ok := s.index[path]
	return p, ok
}

// Remove deletes the prim at path and its whole subtree. It reports
// whether the prim existed.
func (s *Stage) Remove(path string) bool {
	if _, ok := s.index[path]; !ok {
		return false
	}
	kept := s.prims[:0]
	for _, p := range s.prims {
		if p.Path == path || isDescendant(p.Path, path) {
			delete(s.index, p.Path)
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(s.prims); i++ {
		s.prims[i] = nil
	}
	s.prims = kept
	return true
}

// Traverse returns all prims in depth-first order.
func (s *Stage) Traverse() []*Prim {
	return append([]*Prim(nil), s.prims...)
}

// Paths returns the paths of all prims in traversal order.
func (s *Stage) Paths() []string {
	out := make([]string, len(s.prims))
	for i, p := range s.prims {
		out[i] = p.Path
	}
	return out
}

// PrimsOfType returns the prims of the given type in traversal order.
func (s *Stage) PrimsOfType(typ string) []*Prim {
	var out []*Prim
	for _, p := range s.prims {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

// Meshes returns the Mesh prims in traversal order.
func (s *Stage) Meshes() []*Prim {
	return s.PrimsOfType(TypeMesh)
}

// Clone returns a deep copy of the stage.
func (s *Stage) Clone() *Stage {
	c := &Stage{
		prims: make([]*Prim, len(s.prims)),
		index: make(map[string]*Prim, len(s.prims)),
	}
	for i, p := range s.prims {
		cp := p.clone()
		c.prims[i] = cp
		c.index[cp.Path] = cp
	}
	return c
}

// Bind sets the material binding of the prim at primPath.
func (s *Stage) Bind(primPath, materialPath string) error {
	p, ok := s.index[primPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, primPath)
	}
	m, ok := s.index[materialPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, materialPath)
	}
	if m.Type != TypeMaterial {
		return fmt.Errorf("%w: %s is a %q", ErrNotMaterial, materialPath, m.Type)
	}
	p.Binding = materialPath
	return nil
}

// Unbind clears the material binding of the prim at primPath.
func (s *Stage) Unbind(primPath string) error {
	p, ok := s.index[primPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, primPath)
	}
	p.Binding = ""
	return nil
}

// ValidIdentifier turns name into a valid prim name: characters other
// than ASCII letters, digits and underscores become underscores, as does
// a leading digit. An empty name becomes "_".
func ValidIdentifier(name string) string {
	if name == "" {
		return "_"
	}
	out := make([]byte, 0, len(name))
	for _, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			out = append(out, byte(r))
		case r >= '0' && r <= '9' && len(out) > 0:
			out = append(out, byte(r))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
