package genome

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
)

// DefaultBitsPerNote is the chunk width used when none is configured.
const DefaultBitsPerNote = 4

// Melody offsets are relative to BasePitch (middle C) and must land on a MIDI
// key in [MinPitch, MaxPitch].
const (
	BasePitch = 60
	MinPitch  = 0
	MaxPitch  = 127
)

var (
	ErrInvalidLength = errors.New("invalid genome length")
	ErrUnknownScale  = errors.New("unknown scale")
)

// Genome is a fixed-length bit string. Every element is 0 or 1.
type Genome []uint8

// Melody holds semitone offsets relative to the base pitch, one per chunk.
type Melody []int

// Clone returns an independent copy of g.
func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	copy(out, g)
	return out
}

func (g Genome) Equal(other Genome) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

func (g Genome) String() string {
	var b strings.Builder
	b.Grow(len(g))
	for _, bit := range g {
		if bit == 0 {
			b.WriteByte('0')
		} else {
			b.WriteByte('1')
		}
	}
	return b.String()
}

func (g Genome) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *Genome) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// Parse reads a genome from its textual 0/1 form.
func Parse(s string) (Genome, error) {
	out := make(Genome, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
			out[i] = 0
		case '1':
			out[i] = 1
		default:
			return nil, fmt.Errorf("invalid genome bit %q at position %d", s[i], i)
		}
	}
	return out, nil
}

// Length returns the genome length for a phrase of the given shape.
func Length(bars, notesPerBar, bitsPerNote int) int {
	return bars * notesPerBar * bitsPerNote
}

// Codec converts between genomes and melodies for a fixed chunk width.
type Codec struct {
	BitsPerNote int
	Scales      *ScaleRegistry
}

// NewCodec returns a codec over the default scale registry.
func NewCodec(bitsPerNote int) (Codec, error) {
	if bitsPerNote <= 0 {
		return Codec{}, fmt.Errorf("bits per note must be > 0, got %d", bitsPerNote)
	}
	return Codec{BitsPerNote: bitsPerNote, Scales: DefaultScales()}, nil
}

func (c Codec) checkLength(length int) error {
	if c.BitsPerNote <= 0 {
		return fmt.Errorf("%w: bits per note must be > 0", ErrInvalidLength)
	}
	if length <= 0 || length%c.BitsPerNote != 0 {
		return fmt.Errorf("%w: %d is not a positive multiple of %d", ErrInvalidLength, length, c.BitsPerNote)
	}
	return nil
}

// Generate returns a uniformly random genome of the given length.
func (c Codec) Generate(length int, rng *rand.Rand) (Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if err := c.checkLength(length); err != nil {
		return nil, err
	}
	out := make(Genome, length)
	for i := range out {
		out[i] = uint8(rng.Intn(2))
	}
	return out, nil
}

// Decode maps each chunk of g, read most-significant bit first, onto the
// named scale and offsets it by root.
func (c Codec) Decode(g Genome, scaleName string, root int) (Melody, error) {
	registry := c.Scales
	if registry == nil {
		registry = DefaultScales()
	}
	intervals, ok := registry.Lookup(scaleName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScale, scaleName)
	}
	if err := c.checkLength(len(g)); err != nil {
		return nil, err
	}

	notes := make(Melody, 0, len(g)/c.BitsPerNote)
	for start := 0; start < len(g); start += c.BitsPerNote {
		value := chunkValue(g[start : start+c.BitsPerNote])
		notes = append(notes, root+intervals[value%len(intervals)])
	}
	return notes, nil
}

// NoteRange returns the lowest and highest offsets Decode can emit for
// scaleName and root. Only the first 2^BitsPerNote intervals are reachable.
func (c Codec) NoteRange(scaleName string, root int) (int, int, error) {
	registry := c.Scales
	if registry == nil {
		registry = DefaultScales()
	}
	intervals, ok := registry.Lookup(scaleName)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownScale, scaleName)
	}
	if c.BitsPerNote <= 0 {
		return 0, 0, fmt.Errorf("%w: bits per note must be > 0", ErrInvalidLength)
	}

	reachable := len(intervals)
	if c.BitsPerNote < 31 && 1<<c.BitsPerNote < reachable {
		reachable = 1 << c.BitsPerNote
	}
	lo, hi := intervals[0], intervals[0]
	for _, interval := range intervals[1:reachable] {
		lo = min(lo, interval)
		hi = max(hi, interval)
	}
	return root + lo, root + hi, nil
}

func chunkValue(bits Genome) int {
	value := 0
	for _, bit := range bits {
		value = value<<1 | int(bit&1)
	}
	return value
}
