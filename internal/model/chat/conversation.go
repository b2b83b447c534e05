package chat

// Pair is the unordered set of the two participants of a conversation.
// A and B are kept sorted so that Pair{a, b} == Pair{b, a}.
type Pair struct {
	A string
	B string
}

// NewPair builds the canonical pair for two participant identifiers.
func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Key is a stable string form of the pair, usable as a map or storage key.
func (p Pair) Key() string {
	return p.A + ":" + p.B
}

// Contains reports whether id is one of the two participants.
func (p Pair) Contains(id string) bool {
	return p.A == id || p.B == id
}
