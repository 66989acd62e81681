package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	for _, typ := range AllTypes() {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}

	got, err := ParseType(" AF-XDP ")
	require.NoError(t, err)
	assert.Equal(t, TypeAFXDP, got)

	_, err = ParseType("carrier-pigeon")
	assert.Error(t, err)
}

func TestTypeText(t *testing.T) {
	b, err := TypeIOUring.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "io_uring", string(b))

	var typ Type
	require.NoError(t, typ.UnmarshalText([]byte("kqueue")))
	assert.Equal(t, TypeKqueue, typ)
	assert.Equal(t, "type(42)", Type(42).String())
}

func TestParseKernelVersion(t *testing.T) {
	cases := []struct {
		in           string
		major, minor int
	}{
		{"6.8.0-45-generic", 6, 8},
		{"5.15.153.1-microsoft-standard-WSL2", 5, 15},
		{"4.18.0", 4, 18},
		{"10.0.19045 Build 19045", 10, 0},
		{"3", 3, 0},
		{"", 0, 0},
		{"garbage", 0, 0},
	}
	for _, c := range cases {
		major, minor := parseKernelVersion(c.in)
		assert.Equal(t, c.major, major, c.in)
		assert.Equal(t, c.minor, minor, c.in)
	}
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast(5, 1, 5, 1))
	assert.True(t, versionAtLeast(6, 0, 5, 1))
	assert.False(t, versionAtLeast(4, 19, 5, 1))
	assert.False(t, versionAtLeast(5, 0, 5, 1))
}

func TestApplyDisableMask(t *testing.T) {
	caps := capsWith(TypeSendmmsg, TypeAFXDP, TypeRawSocket)
	applyDisableMask(&caps, "af-xdp, ,bogus,SENDMMSG")
	assert.False(t, caps.AFXDP)
	assert.False(t, caps.Sendmmsg)
	assert.True(t, caps.RawSocket)
}

func TestDetect(t *testing.T) {
	t.Setenv(DisableEnv, "raw_socket")
	caps := Detect()
	assert.True(t, caps.RawSocket, "generic path is always available")
	assert.Positive(t, caps.CPUCount)
	assert.GreaterOrEqual(t, caps.NUMANodes, 1)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(TypeDPDK)
	assert.ErrorIs(t, err, ErrNotAvailable)

	r.Register(TypeRawSocket, func() Backend { return NewStandard() })
	r.Register(TypeNone, func() Backend { return NewStandard() })
	assert.True(t, r.Has(TypeRawSocket))
	assert.Equal(t, []Type{TypeNone, TypeRawSocket}, r.Types())
	assert.True(t, DefaultRegistry().Has(TypeRawSocket))
}

func TestDetectPerTypeMask(t *testing.T) {
	t.Setenv("NETSTRESS_DISABLE_SENDMMSG", "1")
	t.Setenv("NETSTRESS_DISABLE_KQUEUE", "1")
	caps := Detect()
	assert.False(t, caps.Sendmmsg)
	assert.False(t, caps.Kqueue)
}
