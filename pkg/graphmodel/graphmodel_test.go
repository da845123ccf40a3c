package graphmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

func loadSchema(t *testing.T, sdl string) *ast.Schema {
	t.Helper()
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "composed.graphql", Input: sdl})
	require.NoError(t, err)
	return schema
}

func TestServiceFromSDL(t *testing.T) {
	service, err := ServiceFromSDL("reviews", `
type Query { review(id: ID!): Review }
type Review { id: ID! body: String }
type Product @key(fields: "upc") @key(fields: "sku", resolvable: false) {
	upc: String!
	sku: String!
	name: String @external
	reviews: [Review]
	internalNote: String @inaccessible
	summary: String @requires(fields: "name")
	topReview: Review @provides(fields: "body")
}
`)
	require.NoError(t, err)

	require.Len(t, service.Keys, 2)
	assert.Equal(t, "upc", service.Keys[0].SelectionSet)
	assert.False(t, service.Keys[0].DisableEntityResolver)
	assert.Equal(t, "sku", service.Keys[1].SelectionSet)
	assert.True(t, service.Keys[1].DisableEntityResolver)

	require.Len(t, service.Requires, 1)
	assert.Equal(t, "Product", service.Requires[0].TypeName)
	assert.Equal(t, "summary", service.Requires[0].FieldName)
	assert.Equal(t, "name", service.Requires[0].SelectionSet)

	require.Len(t, service.Provides, 1)
	assert.Equal(t, "topReview", service.Provides[0].FieldName)
	assert.Equal(t, "body", service.Provides[0].SelectionSet)

	require.Len(t, service.Inaccessible, 1)
	assert.Equal(t, []string{"internalNote"}, service.Inaccessible[0].FieldNames)

	// keyed types and operation roots are root nodes, the rest child nodes
	rootTypes := make([]string, 0, len(service.RootNodes))
	for _, node := range service.RootNodes {
		rootTypes = append(rootTypes, node.TypeName)
	}
	assert.ElementsMatch(t, []string{"Query", "Product"}, rootTypes)
	require.Len(t, service.ChildNodes, 1)
	assert.Equal(t, "Review", service.ChildNodes[0].TypeName)

	for _, node := range service.RootNodes {
		if node.TypeName == "Product" {
			assert.Contains(t, node.FieldNames, "reviews")
			assert.Equal(t, []string{"name"}, node.ExternalFieldNames)
		}
	}
}

func TestServiceFromSDLRejectsInvalidSchema(t *testing.T) {
	_, err := ServiceFromSDL("broken", `type Product { upc: Undeclared }`)
	require.Error(t, err)
}

func TestGraphOwnersExcludeExternalDeclarations(t *testing.T) {
	schema := loadSchema(t, `
type Query { product: Product }
type Product { upc: String! weight: Float }
`)
	products, err := ServiceFromSDL("products", `
type Query { product: Product }
type Product @key(fields: "upc") { upc: String! }
`)
	require.NoError(t, err)
	inventory, err := ServiceFromSDL("inventory", `
type Product @key(fields: "upc") { upc: String! weight: Float }
`)
	require.NoError(t, err)
	shipping, err := ServiceFromSDL("shipping", `
type Product @key(fields: "upc") { upc: String! weight: Float @external }
`)
	require.NoError(t, err)

	graph, err := NewGraph(schema, products, inventory, shipping)
	require.NoError(t, err)

	assert.Equal(t, []string{"inventory"}, graph.Owners("Product", "weight"))
	assert.Equal(t, []string{"products", "inventory", "shipping"}, graph.Owners("Product", "upc"))
	assert.True(t, graph.IsExternal("shipping", "Product", "weight"))
	assert.False(t, graph.IsExternal("inventory", "Product", "weight"))
	assert.True(t, graph.HasField("shipping", "Product", "weight", true))
	assert.False(t, graph.HasField("shipping", "Product", "weight", false))
	assert.True(t, graph.IsEntity("Product"))
}

func TestGraphKeysSkipUnresolvable(t *testing.T) {
	schema := loadSchema(t, `
type Query { product: Product }
type Product { upc: String! sku: String! }
`)
	products, err := ServiceFromSDL("products", `
type Query { product: Product }
type Product @key(fields: "upc") @key(fields: "sku", resolvable: false) {
	upc: String!
	sku: String!
}
`)
	require.NoError(t, err)

	graph, err := NewGraph(schema, products)
	require.NoError(t, err)

	all := graph.Keys("products", "Product", false)
	require.Len(t, all, 2)
	resolvable := graph.Keys("products", "Product", true)
	require.Len(t, resolvable, 1)
	assert.Equal(t, "upc", resolvable[0].FieldSet.String())
}

func TestGraphRejectsDuplicateServiceNames(t *testing.T) {
	schema := loadSchema(t, `type Query { ping: String }`)
	a, err := ServiceFromSDL("gateway", `type Query { ping: String }`)
	require.NoError(t, err)
	b, err := ServiceFromSDL("gateway", `type Query { ping: String }`)
	require.NoError(t, err)

	_, err = NewGraph(schema, a, b)
	require.Error(t, err)
}

func TestGraphRejectsMalformedKeyFieldSet(t *testing.T) {
	schema := loadSchema(t, `type Query { product: Product } type Product { upc: String! }`)
	service, err := ServiceFromSDL("products", `
type Query { product: Product }
type Product @key(fields: "upc {") { upc: String! }
`)
	require.NoError(t, err)

	_, err = NewGraph(schema, service)
	require.Error(t, err)
}

func TestGraphInterfaceKeyInheritance(t *testing.T) {
	schema := loadSchema(t, `
type Query { media: [Media] }
interface Media { id: ID! }
type Book implements Media { id: ID! }
`)
	catalog, err := ServiceFromSDL("catalog", `
type Query { media: [Media] }
interface Media @key(fields: "id") { id: ID! }
type Book implements Media { id: ID! }
`)
	require.NoError(t, err)

	graph, err := NewGraph(schema, catalog)
	require.NoError(t, err)

	inherited := graph.Keys("catalog", "Book", false)
	require.Len(t, inherited, 1)
	assert.Equal(t, "id", inherited[0].FieldSet.String())
	// inherited keys never start an entity fetch on their own
	assert.Empty(t, graph.Keys("catalog", "Book", true))
}

func TestGraphTypeRelations(t *testing.T) {
	schema := loadSchema(t, `
type Query { items: [Item] }
interface Item { id: ID! }
union SearchResult = Book | Movie
type Book implements Item { id: ID! }
type Movie implements Item { id: ID! }
`)
	graph, err := NewGraph(schema)
	require.NoError(t, err)

	assert.True(t, graph.IsAbstractType("Item"))
	assert.True(t, graph.IsAbstractType("SearchResult"))
	assert.False(t, graph.IsAbstractType("Book"))

	assert.ElementsMatch(t, []string{"Book", "Movie"}, graph.PossibleTypeNames("Item"))
	assert.Equal(t, []string{"Book"}, graph.PossibleTypeNames("Book"))

	assert.True(t, graph.IsSubtype("Item", "Book"))
	assert.True(t, graph.IsSubtype("Book", "Book"))
	assert.False(t, graph.IsSubtype("Item", "Item2"))
	assert.False(t, graph.IsSubtype("Book", "Movie"))
}
