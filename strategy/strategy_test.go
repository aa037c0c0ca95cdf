package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		names []string
		want  []string
	}{
		{nil, nil},
		{[]string{"rect"}, []string{"rect"}},
		{[]string{"image", "rect"}, []string{"rect", "image"}},
		{[]string{"Annotation", " rect ", "rect"}, []string{"rect", "annotation"}},
		{[]string{"rect", "annotation", "image"}, []string{"rect", "annotation", "image"}},
	}
	for _, tt := range tests {
		s, err := Parse(tt.names...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s.Names(), "%v", tt.names)
	}
}

func TestParseOrderIndependent(t *testing.T) {
	a, err := Parse("image", "annotation")
	require.NoError(t, err)
	b, err := Parse("annotation", "image")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("rect", "blur")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Contains(t, err.Error(), `"blur"`)
}

func TestMembership(t *testing.T) {
	s := Of(GeometryStrip, ImageBlank)
	assert.True(t, s.GeometryStrip())
	assert.False(t, s.AnnotationSuppress())
	assert.True(t, s.ImageBlank())
	assert.True(t, s.Has(ImageBlank))
	assert.False(t, s.Has(Kind(42)))
	assert.Equal(t, "rect,image", s.String())

	var empty Set
	assert.True(t, empty.Empty())
	assert.Equal(t, "none", empty.String())
}

func TestAll(t *testing.T) {
	kinds := All()
	require.Len(t, kinds, 3)
	assert.Equal(t, "annotation", kinds[1].String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}

func TestDescription(t *testing.T) {
	for _, k := range All() {
		assert.NotEmpty(t, k.Description(), k.String())
	}
	assert.Empty(t, Kind(-1).Description())
}
