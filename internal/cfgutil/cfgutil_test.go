package cfgutil

import (
	"os"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  btcutil.Amount
		err   bool
	}{
		{value: "0.1", want: 10_000_000},
		{value: "0.1 BTC", want: 10_000_000},
		{value: "20000 sat", want: 20_000},
		{value: "5sats", want: 5},
		{value: "-1 sat", err: true},
		{value: "-0.5", err: true},
		{value: "1.5 sat", err: true},
		{value: "ten", err: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.value, func(t *testing.T) {
			t.Parallel()

			var flag AmountFlag
			err := flag.UnmarshalFlag(test.value)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, flag.Amount)
		})
	}
}

func TestNormalizeAddresses(t *testing.T) {
	t.Parallel()

	addrs, err := NormalizeAddresses([]string{
		"localhost", "127.0.0.1:1234", "localhost:9840", "::1",
	}, "9840")
	require.NoError(t, err)
	require.Equal(t, []string{
		"localhost:9840", "127.0.0.1:1234", "[::1]:9840",
	}, addrs)

	_, err = NormalizeAddress("[::1", "9840")
	require.Error(t, err)
}

func TestReadFileIfExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/cert"

	exists, err := FileExists(path)
	require.NoError(t, err)
	require.False(t, exists)

	b, err := ReadFileIfExists(path)
	require.NoError(t, err)
	require.Nil(t, b)

	require.NoError(t, os.WriteFile(path, []byte("pem"), 0600))

	exists, err = FileExists(path)
	require.NoError(t, err)
	require.True(t, exists)

	b, err = ReadFileIfExists(path)
	require.NoError(t, err)
	require.Equal(t, []byte("pem"), b)
}
