package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr, err := NewAddress(CrestPrefix, raw)
	require.NoError(t, err)

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.True(t, addr.Equal(decoded))
	require.Equal(t, CrestPrefix, decoded.Prefix())
	require.Equal(t, raw, decoded.Bytes())
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	_, err := NewAddress(CrestPrefix, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestBytesReturnsCopy(t *testing.T) {
	raw := make([]byte, AddressLength)
	addr, err := NewAddress(CrestPrefix, raw)
	require.NoError(t, err)

	leaked := addr.Bytes()
	leaked[0] = 0xff
	require.True(t, addr.IsZero())
}

func TestModuleAddressDeterministic(t *testing.T) {
	a := ModuleAddress("reserve")
	b := ModuleAddress("reserve")
	c := ModuleAddress("bonds")
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.IsZero())
}
