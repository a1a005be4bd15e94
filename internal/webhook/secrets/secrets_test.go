package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	first, err := Generate()
	require.NoError(t, err)
	second, err := Generate()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(first, Prefix))
	require.NotEqual(t, first, second)
	require.Greater(t, len(first), 40)
}

func TestRedact(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)

	redacted := Redact(secret)
	require.True(t, strings.HasPrefix(redacted, Prefix))
	require.True(t, strings.HasSuffix(redacted, "****"))
	require.Less(t, len(redacted), len(secret))

	// Too-short inputs never echo back.
	require.Equal(t, "****", Redact("whsec_ab"))
	require.Equal(t, "****", Redact(""))
}
