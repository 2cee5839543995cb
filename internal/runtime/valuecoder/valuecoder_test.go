package valuecoder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fnrelay/lambdagate/internal/runtime/valuecoder"
)

func TestParseScalar(t *testing.T) {
	require.Equal(t, true, valuecoder.ParseScalar("true"))
	require.Equal(t, false, valuecoder.ParseScalar("false"))
	require.Nil(t, valuecoder.ParseScalar("null"))
	require.Nil(t, valuecoder.ParseScalar("undefined"))
	require.Equal(t, float64(42), valuecoder.ParseScalar("42"))
	require.Equal(t, float64(3.5), valuecoder.ParseScalar("3.5"))
	require.Equal(t, "hello world", valuecoder.ParseScalar("hello%20world"))
	require.Equal(t, "100%zz", valuecoder.ParseScalar("100%zz"))
}

func TestParseQuery(t *testing.T) {
	require.Empty(t, valuecoder.ParseQuery(""))

	got := valuecoder.ParseQuery("a=1&b=true&c=&=d&e=null")
	require.Equal(t, map[string]any{
		"a": float64(1),
		"b": true,
		"e": nil,
	}, got)
}

func TestParseQueryLastWins(t *testing.T) {
	got := valuecoder.ParseQuery("a=1&a=2")
	require.Equal(t, float64(2), got["a"])
}
