// Package attestation produces and checks the per-iteration attestations
// compute nodes post while a training run is Started.
//
// An attestation is a framed opaque payload: 0x00 || payload || 0x00.
// The payload is random filler today. Generator and Verifier are the seams
// a real proof-of-computation scheme plugs into.
package attestation

import (
	"crypto/rand"
	"fmt"

	"github.com/computeledger/trainmgr/types"
)

const (
	frameByte = 0x00

	DefaultPayloadLength = 50
	DefaultMaxSize       = 4096
	DefaultCadence       = 500
)

type Config struct {
	PayloadLength int    `long:"attestation-length" description:"Random payload bytes per attestation"`
	MaxSize       int    `long:"max-attestation-size" description:"Largest attestation accepted, framing included"`
	Every         uint64 `long:"attestation-every" description:"Training iterations between two attestations"`
}

func DefaultConfig() Config {
	return Config{
		PayloadLength: DefaultPayloadLength,
		MaxSize:       DefaultMaxSize,
		Every:         DefaultCadence,
	}
}

type Generator interface {
	Generate() ([]byte, error)
}

type Verifier interface {
	Verify(attestation []byte) error
}

// RandomGenerator fills the payload from crypto/rand.
type RandomGenerator struct {
	Length int
}

func NewRandomGenerator(length int) *RandomGenerator {
	if length <= 0 {
		length = DefaultPayloadLength
	}
	return &RandomGenerator{Length: length}
}

func (g *RandomGenerator) Generate() ([]byte, error) {
	out := make([]byte, g.Length+2)
	if _, err := rand.Read(out[1 : len(out)-1]); err != nil {
		return nil, fmt.Errorf("reading entropy: %w", err)
	}
	out[0] = frameByte
	out[len(out)-1] = frameByte
	return out, nil
}

// MustGenerate panics when the entropy source fails. Without entropy the
// node cannot produce attestations at all, so there is nothing to recover.
func MustGenerate(g Generator) []byte {
	att, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return att
}

// FrameVerifier accepts any attestation with intact framing, a non-empty
// payload and at most MaxSize bytes.
type FrameVerifier struct {
	MaxSize int
}

func NewFrameVerifier(maxSize int) *FrameVerifier {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &FrameVerifier{MaxSize: maxSize}
}

func (v *FrameVerifier) Verify(att []byte) error {
	switch {
	case len(att) < 3:
		return fmt.Errorf("%w: %d bytes is too short", types.ErrMalformedAttestation, len(att))
	case len(att) > v.MaxSize:
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", types.ErrMalformedAttestation, len(att), v.MaxSize)
	case att[0] != frameByte || att[len(att)-1] != frameByte:
		return fmt.Errorf("%w: bad framing", types.ErrMalformedAttestation)
	}
	return nil
}

// Cadence decides on which training iterations a node attests.
// The protocol does not enforce it.
type Cadence struct {
	Every uint64
}

// Due reports whether iteration (counted from 1) should be attested.
func (c Cadence) Due(iteration uint64) bool {
	if c.Every == 0 || iteration == 0 {
		return false
	}
	return iteration%c.Every == 0
}
