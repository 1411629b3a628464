package cfgutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrencyFlag(t *testing.T) {
	t.Parallel()

	flag := NewCurrencyFlag("")
	code, err := flag.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "USD", code)

	require.NoError(t, flag.UnmarshalFlag("jpy"))
	require.Equal(t, "JPY", flag.Code)

	require.Error(t, flag.UnmarshalFlag("yen"))
	require.Error(t, flag.UnmarshalFlag("J1Y"))
	require.Equal(t, "JPY", flag.Code)
}

func TestExplicitString(t *testing.T) {
	t.Parallel()

	s := NewExplicitString("default")
	require.False(t, s.ExplicitlySet())
	require.NoError(t, s.UnmarshalFlag("default"))
	require.True(t, s.ExplicitlySet())
	require.Equal(t, "default", s.Value)
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "localhost", want: "localhost:9000"},
		{addr: "localhost:1234", want: "localhost:1234"},
		{addr: "127.0.0.1", want: "127.0.0.1:9000"},
		{addr: "::1", want: "[::1]:9000"},
		{addr: "[::1]:1234", want: "[::1]:1234"},
		{addr: "a:b:c:1234]", wantErr: true},
	}

	for _, test := range tests {
		got, err := NormalizeAddress(test.addr, "9000")
		if test.wantErr {
			require.Error(t, err, test.addr)
			continue
		}
		require.NoError(t, err, test.addr)
		require.Equal(t, test.want, got)
	}

	addrs, err := NormalizeAddresses(
		[]string{"localhost", "localhost:9000", "host:1"}, "9000",
	)
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9000", "host:1"}, addrs)
}
