package stage

import (
	"path/filepath"
	"strings"
)

// Material assignment layout below the mesh's parent:
//
//	<parent>/<Name>_mtlx            Scope
//	<parent>/<Name>_mtlx/Materials  Scope
//	.../Materials/<Name>            Material
const (
	materialContainerSuffix = "_mtlx"
	materialsScope          = "Materials"

	// AttrMaterialXFile records the .mtlx document of a Material prim.
	AttrMaterialXFile = "mtlx:file"
)

// Assign binds the materials of the selected slots on a copy of input and
// returns the copy; input is never modified. A nil input yields a nil
// stage and nil slots bind nothing. Slots whose mesh is empty or not a Mesh
// prim are skipped.
//
// A slot's material is either a material name or the path of a .mtlx
// file, whose base name names the material.
func Assign(input *Stage, slots *Slots) (*Stage, error) {
	if input == nil {
		return nil, nil
	}

	if slots == nil {
		slots = NewSlots()
	}

	out := input.Clone()
	for _, i := range slots.Selected() {
		sl := slots.slots[i]
		if sl.Mesh == "" {
			continue
		}
		mesh, ok := out.Prim(sl.Mesh)
		if !ok || mesh.Type != TypeMesh {
			continue
		}

		removeBoundContainer(out, mesh)

		if sl.Material == "" {
			mesh.Binding = ""
			continue
		}
		matPath, err := defineMaterial(out, parentPath(mesh.Path), sl.Material)
		if err != nil {
			return nil, err
		}
		if err := out.Bind(mesh.Path, matPath); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// removeBoundContainer removes the container prim (grandparent) of the
// material currently bound to mesh. Containers holding the mesh itself,
// or a material another prim is still bound to, are left alone.
func removeBoundContainer(st *Stage, mesh *Prim) {
	if mesh.Binding == "" {
		return
	}
	mat, ok := st.Prim(mesh.Binding)
	if !ok {
		return
	}
	container := parentPath(parentPath(mat.Path))
	if container == "/" || container == mesh.Path || isDescendant(mesh.Path, container) {
		return
	}
	for _, p := range st.prims {
		if p == mesh || isDescendant(p.Path, container) {
			continue
		}
		if p.Binding == container || isDescendant(p.Binding, container) {
			return
		}
	}
	st.Remove(container)
}

// defineMaterial defines the material prims for material below parent and
// returns the Material prim path.
func defineMaterial(st *Stage, parent, material string) (string, error) {
	name := material
	var file string
	if strings.EqualFold(filepath.Ext(material), ".mtlx") {
		file = material
		name = strings.TrimSuffix(filepath.Base(material), filepath.Ext(material))
	}
	name = ValidIdentifier(name)

	container := childPath(parent, name+materialContainerSuffix)
	scope := childPath(container, materialsScope)
	matPath := childPath(scope, name)

	if _, err := st.Define(container, TypeScope); err != nil {
		return "", err
	}
	if _, err := st.Define(scope, TypeScope); err != nil {
		return "", err
	}
	mat, err := st.Define(matPath, TypeMaterial)
	if err != nil {
		return "", err
	}
	if file != "" {
		mat.SetAttribute(AttrMaterialXFile, file)
	}
	return matPath, nil
}
