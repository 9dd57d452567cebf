package random

import "fmt"

// Both peers of a match derive chance outcomes locally instead of asking a
// server for them. The seed string is built from identifiers the peers have
// already agreed on (match id, board position, round, roll index), so as long
// as the arithmetic below is bit-exact the two clients always land on the
// same draw. All mixing runs on uint32 with wraparound; floats only appear
// at the final normalization step.

// Generator yields a reproducible stream of floats in [0,1) for one seed.
type Generator struct {
	state uint32
}

// New hashes the seed string and returns a generator positioned at the
// start of its stream.
func New(seed string) *Generator {
	return &Generator{state: hashSeed(seed)}
}

// hashSeed reduces the seed to a 32 bit state with the classic polynomial
// rolling hash (h = h*31 + byte). The hash runs in signed 32 bit arithmetic
// and the absolute value is taken at the end, matching the reference
// behavior the other client implementations replay.
func hashSeed(seed string) uint32 {
	var h int32
	for i := 0; i < len(seed); i++ {
		h = h*31 + int32(seed[i])
	}
	if h < 0 {
		h = -h
	}
	return uint32(h)
}

// NextFloat advances the stream and returns the next value in [0,1).
// Mulberry32: fixed odd increment, two xorshift-multiply rounds, high bits
// normalized by 2^32.
func (g *Generator) NextFloat() float64 {
	g.state += 0x6D2B79F5
	z := g.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	z ^= z >> 14
	return float64(z) / 4294967296.0
}

// NextFloat is the single-shot form: first value of a fresh stream.
func NextFloat(seed string) float64 {
	return New(seed).NextFloat()
}

// EffectSeed composes the shared seed for a card effect roll. The roll index
// starts at 0 and increments when one card triggers several independent
// rolls in the same resolution (second die of a pair, for example). The
// match id prefixes every seed so streams never leak across matches.
func EffectSeed(matchID string, position, round, index int) string {
	return fmt.Sprintf("%s-%d-%d-%d", matchID, position, round, index)
}

// CoinFlip reports heads (true) when the draw lands below 0.5.
func CoinFlip(matchID string, position, round int) bool {
	return NextFloat(EffectSeed(matchID, position, round, 0)) < 0.5
}

// DiceRoll returns a die value in [1,6] for the given roll index.
func DiceRoll(matchID string, position, round, dieIndex int) int {
	draw := NextFloat(EffectSeed(matchID, position, round, dieIndex))
	return int(draw*6) + 1
}

// RangedRoll returns a uniform integer in [lo,hi] inclusive.
func RangedRoll(matchID string, position, round, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	draw := NextFloat(EffectSeed(matchID, position, round, 0))
	return lo + int(draw*float64(hi-lo+1))
}
