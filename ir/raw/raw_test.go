package raw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFollowsReferenceChains(t *testing.T) {
	doc := NewDocument("1.7")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = NumberInt(42)

	got := doc.Resolve(Ref(1, 0))
	n, ok := got.(NumberObj)
	require.True(t, ok)
	assert.Equal(t, int64(42), n.Int())

	assert.Equal(t, NullObj{}, doc.Resolve(Ref(9, 0)))
}

func TestResolveStopsOnCycles(t *testing.T) {
	doc := NewDocument("1.7")
	doc.Objects[ObjectRef{Num: 1}] = Ref(2, 0)
	doc.Objects[ObjectRef{Num: 2}] = Ref(1, 0)
	assert.Equal(t, NullObj{}, doc.Resolve(Ref(1, 0)))
}

func TestDictAccessors(t *testing.T) {
	d := Dict()
	d.Put("Type", NameLiteral("Page"))
	d.Put("Rotate", NumberInt(90))
	d.Put("Scale", NumberFloat(0.5))
	d.Put("Hidden", Bool(true))
	d.Put("Contents", Str([]byte("note")))

	name, ok := d.NameValue("Type")
	require.True(t, ok)
	assert.Equal(t, "Page", name)

	rot, ok := d.IntValue("Rotate")
	require.True(t, ok)
	assert.Equal(t, 90, rot)

	scale, ok := d.NumberValue("Scale")
	require.True(t, ok)
	assert.InDelta(t, 0.5, scale, 1e-9)

	hidden, ok := d.BoolValue("Hidden")
	require.True(t, ok)
	assert.True(t, hidden)

	s, ok := d.StringValue("Contents")
	require.True(t, ok)
	assert.Equal(t, "note", string(s))

	d.Delete("Contents")
	_, ok = d.StringValue("Contents")
	assert.False(t, ok)
}

func TestAddAllocatesFreshNumbers(t *testing.T) {
	doc := NewDocument("1.4")
	doc.Objects[ObjectRef{Num: 7}] = NullObj{}
	ref := doc.Add(NumberInt(1))
	assert.Equal(t, 8, ref.R.Num)
	assert.Equal(t, []ObjectRef{{Num: 7}, {Num: 8}}, doc.Refs())
}

func TestNumberKeepsIntegers(t *testing.T) {
	assert.True(t, Number(3).IsInteger())
	assert.False(t, Number(3.25).IsInteger())
	assert.Equal(t, []float64{0, 0, 612, 792}, NumberArray(0, 0, 612, 792).Floats())
}

func TestDocumentDictYieldsStreamDictionary(t *testing.T) {
	doc := NewDocument("1.7")
	sd := Dict()
	sd.Put("Subtype", NameLiteral("Image"))
	doc.Objects[ObjectRef{Num: 3}] = NewStream(sd, []byte{1, 2, 3})
	got := doc.Dict(Ref(3, 0))
	require.NotNil(t, got)
	sub, _ := got.NameValue("Subtype")
	assert.Equal(t, "Image", sub)
	require.NotNil(t, doc.Stream(Ref(3, 0)))
	assert.Nil(t, doc.Array(Ref(3, 0)))
}
