package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coinwatch/coinwatch/chain"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	f := NewAmountFlag(chain.Amount(5))
	s, err := f.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "0.000000000005 XCH", s)

	require.NoError(t, f.UnmarshalFlag("1.5 XCH"))
	require.EqualValues(t, 1_500_000_000_000, f.Amount)

	require.Error(t, f.UnmarshalFlag("abc"))
	require.Error(t, f.UnmarshalFlag("0.0000000000001"))
}

func TestNormalizeAddresses(t *testing.T) {
	t.Parallel()

	got, err := NormalizeAddresses([]string{
		"node1", "node1:8555", "10.0.0.1:9000", "::1",
	}, "8555")
	require.NoError(t, err)
	require.Equal(t, []string{
		"node1:8555", "10.0.0.1:9000", "[::1]:8555",
	}, got)

	_, err = NormalizeAddress("[bad", "8555")
	require.Error(t, err)

	_, err = NormalizeAddresses([]string{"node1", " "}, "8555")
	require.Error(t, err)
}

func TestExplicitString(t *testing.T) {
	t.Parallel()

	e := NewExplicitString("mainnet")
	require.False(t, e.ExplicitlySet())

	require.NoError(t, e.UnmarshalFlag("mainnet"))
	require.True(t, e.ExplicitlySet())
	require.Equal(t, "mainnet", e.Value)
}

func TestFileExists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "f")
	ok, err := FileExists(path)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(path, nil, 0600))
	ok, err = FileExists(path)
	require.NoError(t, err)
	require.True(t, ok)
}
