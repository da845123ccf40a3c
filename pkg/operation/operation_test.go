package operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const testSchema = `
type Query {
	topProducts(first: Int): [Product]
	search(term: String!): [SearchResult]
}
type Mutation {
	createReview(body: String!): Review
}
type Product {
	upc: String!
	name: String
	price: Float
	reviews: [[Review]]
}
type Review {
	id: ID!
	body: String
}
union SearchResult = Product | Review
`

func loadSchema(t *testing.T) *ast.Schema {
	t.Helper()
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: testSchema})
	require.NoError(t, err)
	return schema
}

func TestParseSimpleQuery(t *testing.T) {
	op, err := Parse(loadSchema(t), `query Top { topProducts(first: 3) { upc name } }`, "")
	require.NoError(t, err)

	assert.Equal(t, "Top", op.Name)
	assert.Equal(t, ast.Query, op.Type)
	assert.Equal(t, "Query", op.RootTypeName)
	require.Len(t, op.Selections, 1)

	products := op.Selections[0]
	assert.Equal(t, "topProducts", products.Name)
	assert.Equal(t, "Product", products.TypeName)
	assert.Equal(t, 1, products.ListDepth)
	assert.False(t, products.IsLeaf)
	require.Len(t, products.Children, 2)
	assert.Equal(t, "upc", products.Children[0].Name)
	assert.True(t, products.Children[0].IsLeaf)
	assert.Equal(t, "Product", products.Children[0].ParentTypeName)
}

func TestParseRejectsInvalidQuery(t *testing.T) {
	_, err := Parse(loadSchema(t), `{ topProducts { nope } }`, "")
	require.Error(t, err)
}

func TestParseSelectsOperationByName(t *testing.T) {
	schema := loadSchema(t)
	doc := `
query A { topProducts { upc } }
query B { topProducts { name } }
`
	op, err := Parse(schema, doc, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", op.Name)
	assert.Equal(t, "name", op.Selections[0].Children[0].Name)

	_, err = Parse(schema, doc, "")
	require.Error(t, err, "ambiguous document needs an operation name")

	_, err = Parse(schema, doc, "C")
	require.Error(t, err)
}

func TestNormalizeExpandsFragmentSpreads(t *testing.T) {
	op, err := Parse(loadSchema(t), `
query {
	topProducts {
		...productFields
		name
	}
}
fragment productFields on Product {
	upc
	name
}
`, "")
	require.NoError(t, err)

	products := op.Selections[0]
	require.Len(t, products.Children, 2, "name from spread and direct selection must merge")
	assert.Equal(t, "upc", products.Children[0].Name)
	assert.Equal(t, "name", products.Children[1].Name)
	assert.Empty(t, products.Children[0].TypeCondition, "condition on the parent type is no narrowing")
}

func TestNormalizeKeepsNarrowingTypeConditions(t *testing.T) {
	op, err := Parse(loadSchema(t), `
{
	search(term: "go") {
		... on Product { name }
		... on Review { body }
	}
}
`, "")
	require.NoError(t, err)

	search := op.Selections[0]
	assert.True(t, search.IsAbstract)
	require.Len(t, search.Children, 2)
	assert.Equal(t, "Product", search.Children[0].TypeCondition)
	assert.Equal(t, "Product", search.Children[0].EffectiveParentTypeName())
	assert.Equal(t, "Review", search.Children[1].TypeCondition)
}

func TestNormalizeNestedListDepth(t *testing.T) {
	op, err := Parse(loadSchema(t), `{ topProducts { reviews { id } } }`, "")
	require.NoError(t, err)

	reviews := op.Selections[0].Children[0]
	assert.Equal(t, "Review", reviews.TypeName)
	assert.Equal(t, 2, reviews.ListDepth)
}

func TestNormalizeMutation(t *testing.T) {
	op, err := Parse(loadSchema(t), `mutation { createReview(body: "nice") { id } }`, "")
	require.NoError(t, err)

	assert.Equal(t, ast.Mutation, op.Type)
	assert.Equal(t, "Mutation", op.RootTypeName)
	require.Len(t, op.Selections, 1)
	assert.Equal(t, "createReview", op.Selections[0].Name)
}

func TestNormalizeAliasAndTypename(t *testing.T) {
	op, err := Parse(loadSchema(t), `{ topProducts { productName: name __typename } }`, "")
	require.NoError(t, err)

	children := op.Selections[0].Children
	require.Len(t, children, 2)
	assert.Equal(t, "productName", children[0].ResponseKey())
	assert.Equal(t, "name", children[0].Name)
	typename := children[1]
	assert.Equal(t, "__typename", typename.Name)
	assert.True(t, typename.IsLeaf)
}

func TestNormalizeCarriesVariableDefinitions(t *testing.T) {
	op, err := Parse(loadSchema(t), `query Top($first: Int) { topProducts(first: $first) { upc } }`, "")
	require.NoError(t, err)

	require.Len(t, op.Variables, 1)
	assert.Equal(t, "first", op.Variables[0].Variable)
	args := op.Selections[0].Arguments
	require.Len(t, args, 1)
	assert.Equal(t, ast.Variable, args[0].Value.Kind)
}
