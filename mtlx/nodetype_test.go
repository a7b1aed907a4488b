package mtlx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(attrs ...string) *Element {
	e := NewElement("input", "")
	for i := 0; i+1 < len(attrs); i += 2 {
		e.SetAttr(attrs[i], attrs[i+1])
	}
	return e
}

func TestNewProperty(t *testing.T) {
	tests := []struct {
		name string
		in   *Element
		want Property
	}{
		{
			name: "float with limits",
			in:   input("name", "base", "type", "float", "value", "0.8", "uimin", "0", "uimax", "1", "uisoftmax", "0.5"),
			want: Property{Name: "base", Label: "Base", Type: "float", Kind: KindFloat, Default: 0.8, Min: 0.0, Max: 1.0, SoftMax: 0.5},
		},
		{
			name: "color",
			in:   input("name", "base_color", "type", "color3", "value", "1, 0.5, 0", "uisoftmin", "0.1,0.2,0.3"),
			want: Property{Name: "base_color", Label: "Base Color", Type: "color3", Kind: KindVector, Subtype: SubtypeColor, Size: 3,
				Default: []float64{1, 0.5, 0}, SoftMin: 0.1},
		},
		{
			name: "vector",
			in:   input("name", "texcoord", "type", "vector2"),
			want: Property{Name: "texcoord", Label: "Texcoord", Type: "vector2", Kind: KindVector, Subtype: SubtypeXYZ, Size: 2},
		},
		{
			name: "filename",
			in:   input("name", "file", "type", "filename", "value", ""),
			want: Property{Name: "file", Label: "File", Type: "filename", Kind: KindString, Subtype: SubtypeFileName, Default: ""},
		},
		{
			name: "string",
			in:   input("name", "layer", "type", "string", "value", "diffuse"),
			want: Property{Name: "layer", Label: "Layer", Type: "string", Kind: KindString, Default: "diffuse"},
		},
		{
			name: "integer",
			in:   input("name", "octaves", "type", "integer", "value", "3", "uimin", "1"),
			want: Property{Name: "octaves", Label: "Octaves", Type: "integer", Kind: KindInt, Default: 3, Min: 1},
		},
		{
			name: "boolean",
			in:   input("name", "thin_walled", "type", "boolean", "value", "True"),
			want: Property{Name: "thin_walled", Label: "Thin Walled", Type: "boolean", Kind: KindBool, Default: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewProperty(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPropertyErrors(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		_, err := NewProperty(input("name", "bsdf", "type", "BSDF"))
		assert.ErrorIs(t, err, ErrUnknownType)
		assert.Contains(t, err.Error(), "bsdf")
	})

	t.Run("vector array", func(t *testing.T) {
		_, err := NewProperty(input("name", "points", "type", "vector3array"))
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("bad default", func(t *testing.T) {
		_, err := NewProperty(input("name", "base", "type", "float", "value", "heavy"))
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.Contains(t, err.Error(), "value")
	})

	t.Run("bad limit", func(t *testing.T) {
		_, err := NewProperty(input("name", "base", "type", "float", "uimax", "x"))
		assert.ErrorIs(t, err, ErrInvalidValue)
		assert.Contains(t, err.Error(), "uimax")
	})
}

func TestNewNodeType(t *testing.T) {
	doc := loadTestLibrary(t)

	nt, err := NewNodeType(doc.NodeDef("ND_standard_surface_surfaceshader"))
	require.NoError(t, err)

	assert.Equal(t, "hdusd.mx_standard_surface", nt.ID)
	assert.Equal(t, "Standard Surface", nt.Label)
	assert.Equal(t, "standard_surface", nt.Node)
	assert.Equal(t, "ND_standard_surface_surfaceshader", nt.NodeDef)
	assert.Equal(t, "surfaceshader", nt.Type)

	var props []string
	for _, p := range nt.Properties {
		props = append(props, p.Name)
	}
	assert.Equal(t, []string{"base", "base_color", "normal", "thin_walled", "coat_affect_roughness"}, props,
		"the BSDF input has no property")

	assert.Equal(t, []Socket{
		{Name: "Base", Type: "float", Property: "base"},
		{Name: "Base Color", Type: "color3", Property: "base_color"},
		{Name: "Normal", Type: "vector3", Property: "normal"},
		{Name: "Thin Walled", Type: "boolean", Property: "thin_walled"},
		{Name: "Coat Affect Roughness", Type: "float", Property: "coat_affect_roughness"},
		{Name: "Bsdf", Type: "BSDF"},
	}, nt.Inputs)
	assert.Equal(t, []Socket{{Name: "Out", Type: "surfaceshader"}}, nt.Outputs)

	p, ok := nt.Property("base_color")
	require.True(t, ok)
	assert.Equal(t, 0.0, p.SoftMin)
	assert.Equal(t, 1.0, p.SoftMax)

	s, ok := nt.Input("thin_walled")
	require.True(t, ok)
	assert.Equal(t, "boolean", s.Type)
}

func TestNewNodeTypeParameters(t *testing.T) {
	doc := loadTestLibrary(t)

	nt, err := NewNodeType(doc.NodeDef("ND_image_color3"))
	require.NoError(t, err)

	file, ok := nt.Property("file")
	require.True(t, ok)
	assert.Equal(t, SubtypeFileName, file.Subtype)
	_, ok = nt.Property("layer")
	assert.True(t, ok)

	assert.Equal(t, "color3", nt.Type, "type taken from the nodedef when it has no outputs")
	assert.Equal(t, []Socket{{Name: "Out", Type: "color3"}}, nt.Outputs)
}

func TestNewNodeTypeErrors(t *testing.T) {
	t.Run("unknown parameter type", func(t *testing.T) {
		nd := NewElement("nodedef", "ND_bad")
		nd.SetAttr("node", "bad")
		p := nd.AddChild("parameter", "m")
		p.SetAttr("type", "matrix33")

		_, err := NewNodeType(nd)
		assert.ErrorIs(t, err, ErrUnknownType)
		assert.Contains(t, err.Error(), "ND_bad")
	})

	t.Run("invalid input value", func(t *testing.T) {
		nd := NewElement("nodedef", "ND_bad")
		nd.SetAttr("node", "bad")
		in := nd.AddChild("input", "amount")
		in.SetAttr("type", "float")
		in.SetAttr("value", "lots")

		_, err := NewNodeType(nd)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("missing node attribute", func(t *testing.T) {
		_, err := NewNodeType(NewElement("nodedef", "ND_anon"))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("not a nodedef", func(t *testing.T) {
		_, err := NewNodeType(NewElement("standard_surface", "SR"))
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})
}
