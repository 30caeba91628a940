package attestation_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/computeledger/trainmgr/attestation"
	"github.com/computeledger/trainmgr/types"
)

func TestGenerateFraming(t *testing.T) {
	t.Parallel()
	g := attestation.NewRandomGenerator(0)

	a, err := g.Generate()
	require.NoError(t, err)
	require.Len(t, a, attestation.DefaultPayloadLength+2)
	require.Zero(t, a[0])
	require.Zero(t, a[len(a)-1])

	b := attestation.MustGenerate(g)
	require.NotEqual(t, a, b, "two attestations must not collide")
	require.NoError(t, attestation.NewFrameVerifier(0).Verify(a))
}

func TestFrameVerifier(t *testing.T) {
	t.Parallel()
	v := attestation.NewFrameVerifier(8)

	tests := []struct {
		name string
		att  []byte
		ok   bool
	}{
		{"valid", []byte{0, 1, 2, 0}, true},
		{"empty", nil, false},
		{"no payload", []byte{0, 0}, false},
		{"missing leading frame", []byte{1, 2, 0}, false},
		{"missing trailing frame", []byte{0, 2, 1}, false},
		{"too large", make([]byte, 9), false},
		{"max size", make([]byte, 8), true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := v.Verify(tc.att)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, types.ErrMalformedAttestation)
			}
		})
	}
}

func TestCadence(t *testing.T) {
	t.Parallel()
	c := attestation.Cadence{Every: attestation.DefaultCadence}
	require.False(t, c.Due(0))
	require.False(t, c.Due(499))
	require.True(t, c.Due(500))
	require.False(t, c.Due(501))
	require.True(t, c.Due(1000))

	require.False(t, attestation.Cadence{}.Due(500))
}
