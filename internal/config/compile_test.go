package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/configexpr"
)

func testEnvironment(t *testing.T) *configexpr.Environment {
	t.Helper()
	env, err := configexpr.NewEnvironment()
	require.NoError(t, err)
	return env
}

func TestCompileBuildsRoutableTable(t *testing.T) {
	env := testEnvironment(t)

	lambdas := map[string]RawLambdaSpec{
		"/users/*": {
			Name:    "getUser",
			Version: "3",
			Cache: &RawCacheSpec{
				Enabled: true,
				Key:     map[string]any{"expr": "params.id"},
			},
			Auth: map[string]any{
				"secret":        "shared-secret",
				"requiredRoles": []any{"admin"},
			},
		},
	}

	table, err := Compile(env, nil, lambdas)
	require.NoError(t, err)
	require.NotNil(t, table)

	lambda, pattern, ok := table.Resolve("/users/42")
	require.True(t, ok)
	require.Equal(t, "/users/*", pattern)
	require.Equal(t, "getUser", lambda.Name)
	require.Equal(t, "3", lambda.Version)
	require.NotNil(t, lambda.Cache)
	require.NotNil(t, lambda.Auth)
	require.Equal(t, []string{"admin"}, lambda.Auth.RequiredRoles)
}

func TestCompileAuthDiscrimination(t *testing.T) {
	env := testEnvironment(t)

	spec, err := CompileAuth(env, nil, nil)
	require.NoError(t, err)
	require.Nil(t, spec)

	spec, err = CompileAuth(env, nil, false)
	require.NoError(t, err)
	require.Nil(t, spec)

	spec, err = CompileAuth(env, nil, true)
	require.NoError(t, err)
	require.NotNil(t, spec)
	require.True(t, spec.NonObject)

	spec, err = CompileAuth(env, nil, "yes")
	require.NoError(t, err)
	require.NotNil(t, spec)
	require.True(t, spec.NonObject)

	spec, err = CompileAuth(env, nil, map[string]any{
		"secret":        "x",
		"requiredRoles": []any{"admin", "owner"},
	})
	require.NoError(t, err)
	require.NotNil(t, spec)
	require.False(t, spec.NonObject)
	require.Equal(t, []string{"admin", "owner"}, spec.RequiredRoles)
}

func TestCompileRejectsBadExpression(t *testing.T) {
	env := testEnvironment(t)

	lambdas := map[string]RawLambdaSpec{
		"/broken": {
			Name: "broken",
			Cache: &RawCacheSpec{
				Enabled: map[string]any{"expr": "this is not valid CEL ((("},
			},
		},
	}

	_, err := Compile(env, nil, lambdas)
	require.Error(t, err)
}
