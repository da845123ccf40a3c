package graphmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldSet(t *testing.T) {
	fs, err := ParseFieldSet("id organization { id region }")
	require.NoError(t, err)

	assert.Equal(t, "id organization { id region }", fs.String())
	assert.Equal(t, [][]string{
		{"id"},
		{"organization", "id"},
		{"organization", "region"},
	}, fs.Paths())
	assert.True(t, fs.HasField("id"))
	assert.False(t, fs.HasField("region"))
	assert.True(t, fs.HasPath([]string{"organization", "region"}))
	assert.False(t, fs.HasPath([]string{"organization", "name"}))
}

func TestParseFieldSetRejectsNonFields(t *testing.T) {
	_, err := ParseFieldSet("... on User { id }")
	require.Error(t, err)

	_, err = ParseFieldSet("user(id: 1)")
	require.Error(t, err)

	_, err = ParseFieldSet("id {")
	require.Error(t, err)
}

func TestFieldSetMergePreservesOrder(t *testing.T) {
	a := MustParseFieldSet("id organization { id }")
	b := MustParseFieldSet("organization { region } name")

	merged := a.Merge(b)
	assert.Equal(t, "id organization { id region } name", merged.String())

	// the receiver is not mutated
	assert.Equal(t, "id organization { id }", a.String())
}

func TestFieldSetWithTypename(t *testing.T) {
	fs := MustParseFieldSet("id")
	assert.Equal(t, "__typename id", fs.WithTypename().String())
	// idempotent
	assert.Equal(t, "__typename id", fs.WithTypename().WithTypename().String())
}
