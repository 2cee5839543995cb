package router_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/router"
)

func buildTable(patterns ...string) *router.Table {
	lambdas := make(map[string]*router.LambdaSpec, len(patterns))
	for _, p := range patterns {
		lambdas[p] = &router.LambdaSpec{Name: p}
	}
	return router.NewTable(patterns, lambdas)
}

func TestWildcardRoutingScenario(t *testing.T) {
	table := buildTable("/*", "/*/param2", "/*/param2/param3", "/*/*/param3")

	spec, pattern, ok := table.Resolve("/x/param2")
	require.True(t, ok)
	require.Equal(t, "/*/param2", pattern)
	require.Equal(t, "/*/param2", spec.Name)

	_, pattern, ok = table.Resolve("/x/param2/param3")
	require.True(t, ok)
	require.Equal(t, "/*/param2/param3", pattern)

	_, pattern, ok = table.Resolve("/x/y/param3")
	require.True(t, ok)
	require.Equal(t, "/*/*/param3", pattern)

	_, pattern, ok = table.Resolve("/z")
	require.True(t, ok)
	require.Equal(t, "/*", pattern)
}

func TestSpecificityScenario(t *testing.T) {
	table := buildTable("/*", "/*/param2", "/*/param2/param3", "/*/*/param3")

	_, pattern, ok := table.Resolve("/any/param2/param3")
	require.True(t, ok)
	require.Equal(t, "/*/param2/param3", pattern)

	_, pattern, ok = table.Resolve("/any/any/param3")
	require.True(t, ok)
	require.Equal(t, "/*/*/param3", pattern)
}

func TestExactSegmentCountFallthrough(t *testing.T) {
	table := buildTable("/*", "/*/*", "/*/*/*")

	_, pattern, ok := table.Resolve("/a")
	require.True(t, ok)
	require.Equal(t, "/*", pattern)

	_, pattern, ok = table.Resolve("/a/b")
	require.True(t, ok)
	require.Equal(t, "/*/*", pattern)

	_, pattern, ok = table.Resolve("/a/b/c")
	require.True(t, ok)
	require.Equal(t, "/*/*/*", pattern)
}

func TestRootRouting(t *testing.T) {
	withRoot := buildTable("/", "/*")
	_, pattern, ok := withRoot.Resolve("/")
	require.True(t, ok)
	require.Equal(t, "/", pattern)

	withWildcardOnly := buildTable("/*")
	_, pattern, ok = withWildcardOnly.Resolve("/")
	require.True(t, ok)
	require.Equal(t, "/*", pattern)

	empty := buildTable()
	_, _, ok = empty.Resolve("/")
	require.False(t, ok)
}

func TestNoMatch(t *testing.T) {
	table := buildTable("/a/b")
	_, _, ok := table.Resolve("/a/c")
	require.False(t, ok)
}
