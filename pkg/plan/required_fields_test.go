package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosureExpandsTransitiveRequirements(t *testing.T) {
	graph := productsGraph(t)
	resolver := NewDependencyResolver(graph)

	closure, err := resolver.ClosureFor("pricing", "Product", "totalCost")
	require.NoError(t, err)

	assert.Equal(t, "shippingEstimate", closure.Direct.String())
	require.Len(t, closure.Fields, 2)

	estimate := closure.Fields[0]
	assert.Equal(t, []string{"shippingEstimate"}, estimate.Path)
	assert.Equal(t, []string{"shipping"}, estimate.Owners)
	assert.Equal(t, [][]string{{"weight"}}, estimate.DirectRequires)

	weight := closure.Fields[1]
	assert.Equal(t, []string{"weight"}, weight.Path)
	assert.Equal(t, []string{"inventory"}, weight.Owners)
	assert.Empty(t, weight.DirectRequires)
}

func TestClosureWithoutRequiresIsEmpty(t *testing.T) {
	graph := productsGraph(t)
	resolver := NewDependencyResolver(graph)

	closure, err := resolver.ClosureFor("inventory", "Product", "weight")
	require.NoError(t, err)
	assert.Empty(t, closure.Direct)
	assert.Empty(t, closure.Fields)
}

func TestClosureDeduplicatesDiamondRequirements(t *testing.T) {
	graph := buildGraph(t, `
type Query { product(upc: String!): Product }
type Product { upc: String! weight: Float price: Float shippingCost: Float }
`,
		subgraph{name: "products", sdl: `
type Query { product(upc: String!): Product }
type Product @key(fields: "upc") { upc: String! }
`},
		subgraph{name: "inventory", sdl: `
type Product @key(fields: "upc") { upc: String! weight: Float }
`},
		subgraph{name: "pricing", sdl: `
type Product @key(fields: "upc") {
	upc: String!
	weight: Float @external
	price: Float @requires(fields: "weight")
}
`},
		subgraph{name: "checkout", sdl: `
type Product @key(fields: "upc") {
	upc: String!
	weight: Float @external
	price: Float @external
	shippingCost: Float @requires(fields: "weight price")
}
`},
	)

	closure, err := NewDependencyResolver(graph).ClosureFor("checkout", "Product", "shippingCost")
	require.NoError(t, err)

	// weight is required both directly and through price, but appears once
	require.Len(t, closure.Fields, 2)
	assert.Equal(t, []string{"weight"}, closure.Fields[0].Path)
	assert.Equal(t, []string{"price"}, closure.Fields[1].Path)
	assert.Equal(t, [][]string{{"weight"}}, closure.Fields[1].DirectRequires)

	weight, ok := closure.Field("Product", []string{"weight"})
	require.True(t, ok)
	assert.Equal(t, []string{"inventory"}, weight.Owners)
}

func TestClosureCycleDetection(t *testing.T) {
	graph := buildGraph(t, `
type Query { product(upc: String!): Product }
type Product { upc: String! margin: Float markup: Float }
`,
		subgraph{name: "products", sdl: `
type Query { product(upc: String!): Product }
type Product @key(fields: "upc") { upc: String! }
`},
		subgraph{name: "pricing", sdl: `
type Product @key(fields: "upc") {
	upc: String!
	margin: Float @requires(fields: "markup")
	markup: Float @external
}
`},
		subgraph{name: "billing", sdl: `
type Product @key(fields: "upc") {
	upc: String!
	markup: Float @requires(fields: "margin")
	margin: Float @external
}
`},
	)

	_, err := NewDependencyResolver(graph).ClosureFor("pricing", "Product", "margin")
	var cycleErr *RequirementCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Contains(t, cycleErr.Cycle, "Product.margin")
	assert.Contains(t, cycleErr.Cycle, "Product.markup")
}
