package pathwalk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wundergraph/federationplan/pkg/plan"
)

type staticTypes map[string][]string

func (s staticTypes) IsSubtype(parent, concrete string) bool {
	if parent == concrete {
		return true
	}
	for _, sub := range s[parent] {
		if sub == concrete {
			return true
		}
	}
	return false
}

func parsePath(segments ...string) plan.Path {
	path := make(plan.Path, 0, len(segments))
	for _, segment := range segments {
		path = append(path, plan.ParsePathElement(segment))
	}
	return path
}

func TestSelectKeyDescendsObjects(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`{"product":{"upc":"top-1","weight":4.5}}`)

	matches, err := walker.Select(data, parsePath("product"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.JSONEq(t, `{"upc":"top-1","weight":4.5}`, string(matches[0].Data))
	assert.Equal(t, "product", matches[0].Pointer())
}

func TestSelectFlattenFansOutArrays(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`{"topProducts":[{"upc":"1"},{"upc":"2"},{"upc":"3"}]}`)

	matches, err := walker.Select(data, parsePath("topProducts", "@", "upc"))
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "topProducts.0.upc", matches[0].Pointer())
	assert.Equal(t, "2", string(matches[1].Data))
}

func TestSelectKeyOverArrayRetriesPerElement(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`[{"upc":"1"},{"upc":"2"}]`)

	// a key element applied to an array descends into every entry
	matches, err := walker.Select(data, parsePath("upc"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "0.upc", matches[0].Pointer())
	assert.Equal(t, "1.upc", matches[1].Pointer())
}

func TestSelectSkipsMissingKeysAndNulls(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`{"items":[{"upc":"1"},null,{"other":true}]}`)

	matches, err := walker.Select(data, parsePath("items", "@", "upc"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1", string(matches[0].Data))
}

func TestSelectFragmentMatchesTypename(t *testing.T) {
	walker := NewWalker(staticTypes{"Item": {"Book", "Movie"}})
	data := []byte(`{"items":[
		{"__typename":"Book","title":"one"},
		{"__typename":"Song","title":"two"},
		{"title":"untyped"}
	]}`)

	matches, err := walker.Select(data, parsePath("items", "@", "... on Book", "title"))
	require.NoError(t, err)
	// Song fails the condition, the untyped object matches by default
	require.Len(t, matches, 2)
	assert.Equal(t, "one", string(matches[0].Data))
	assert.Equal(t, "untyped", string(matches[1].Data))
}

func TestSelectFragmentMatchesDeclaredSubtype(t *testing.T) {
	walker := NewWalker(staticTypes{"Item": {"Book"}})
	data := []byte(`{"item":{"__typename":"Book","title":"one"}}`)

	matches, err := walker.Select(data, parsePath("item", "... on Item", "title"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "one", string(matches[0].Data))
}

func TestSelectFragmentOverArrayRetriesPerElement(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`[{"__typename":"Book","title":"a"},{"__typename":"Movie","title":"b"}]`)

	matches, err := walker.Select(data, parsePath("... on Movie", "title"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", string(matches[0].Data))
	assert.Equal(t, "1.title", matches[0].Pointer())
}

func TestSelectIndexElement(t *testing.T) {
	walker := NewWalker(staticTypes{})
	data := []byte(`{"items":["a","b","c"]}`)

	matches, err := walker.Select(data, parsePath("items", "1"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", string(matches[0].Data))

	matches, err = walker.Select(data, parsePath("items", "9"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNullOut(t *testing.T) {
	data := []byte(`{"items":[{"upc":"1","weight":4.5},{"upc":"2","weight":9.0}]}`)

	out, err := NullOut(data, []string{"items", "1", "weight"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"upc":"1","weight":4.5},{"upc":"2","weight":null}]}`, string(out))

	out, err = NullOut(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
