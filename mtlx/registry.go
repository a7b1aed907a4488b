package mtlx

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry holds node types by node name. A node name may have several
// node types, one per nodedef (e.g. ND_add_float and ND_add_color3).
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string][]*NodeType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string][]*NodeType)}
}

// Add registers nt. A node type with the same nodedef name is replaced.
func (r *Registry) Add(nt *NodeType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := r.types[nt.Node]
	for i, existing := range types {
		if existing.NodeDef == nt.NodeDef {
			types[i] = nt
			return
		}
	}
	r.types[nt.Node] = append(types, nt)
}

// AddDocument registers the node types of every nodedef in doc. Nodedefs
// that fail to convert are skipped and their errors joined.
func (r *Registry) AddDocument(doc *Document) error {
	var errs []error
	for _, nd := range doc.NodeDefs() {
		nt, err := NewNodeType(nd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Add(nt)
	}
	return errors.Join(errs...)
}

// LoadLibrary registers the nodedefs of every .mtlx file below dir.
// Files that fail to load are skipped and their errors joined.
func (r *Registry) LoadLibrary(dir string) error {
	var errs []error
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".mtlx") {
			return nil
		}
		doc, err := LoadFile(p)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if err := r.AddDocument(doc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Lookup returns the first node type registered for a node name.
func (r *Registry) Lookup(node string) (*NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := r.types[node]
	if len(types) == 0 {
		return nil, false
	}
	return types[0], true
}

// Len returns the number of registered node types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, types := range r.types {
		n += len(types)
	}
	return n
}

// NodeTypes returns all node types sorted by node name, then nodedef name.
func (r *Registry) NodeTypes() []*NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*NodeType
	for _, types := range r.types {
		out = append(out, types...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].NodeDef < out[j].NodeDef
	})
	return out
}

// Node is a document node resolved to its node type.
type Node struct {
	Type  *NodeType
	Label string

	// Values holds the input values set on the node, parsed by type.
	Values map[string]any

	// Links maps connected inputs to their upstream node.
	Links map[string]string
}

// Import resolves a document node to its node type. An explicit nodedef
// attribute selects that nodedef; otherwise the node type whose output
// type matches the node's type wins, falling back to the first one.
func (r *Registry) Import(node *Element) (*Node, error) {
	category := node.Category()

	r.mu.RLock()
	candidates := r.types[category]
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNodeDef, category)
	}

	nt := candidates[0]
	if name := node.Attr("nodedef"); name != "" {
		nt = nil
		for _, c := range candidates {
			if c.NodeDef == name {
				nt = c
				break
			}
		}
		if nt == nil {
			return nil, fmt.Errorf("%w: %s (nodedef %s)", ErrNoNodeDef, category, name)
		}
	} else if typ := node.Type(); typ != "" {
		for _, c := range candidates {
			if c.Type == typ {
				nt = c
				break
			}
		}
	}

	n := &Node{
		Type:   nt,
		Label:  node.Name(),
		Values: make(map[string]any),
		Links:  make(map[string]string),
	}
	for _, in := range node.Inputs() {
		name := in.Name()
		if upstream := in.Attr("nodename"); upstream != "" {
			n.Links[name] = upstream
			continue
		}
		raw, ok := in.LookupAttr("value")
		if !ok {
			continue
		}
		typ := in.Type()
		if typ == "" {
			if s, ok := nt.Input(name); ok {
				typ = s.Type
			}
		}
		v, err := ParseValue(typ, raw, false)
		if err != nil {
			return nil, fmt.Errorf("node %s input %s: %w", node.Name(), name, err)
		}
		n.Values[name] = v
	}
	return n, nil
}
