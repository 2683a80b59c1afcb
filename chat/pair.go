package chat

import "fmt"

// A Pair is the canonical, order independent key of a conversation. A is
// always lexically smaller than B.
type Pair struct {
	A string
	B string
}

// NewPair returns the canonical pair for two distinct user ids.
func NewPair(u1, u2 string) (Pair, error) {
	if u1 == "" || u2 == "" || u1 == u2 {
		return Pair{}, ErrInvalidParticipants
	}
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return Pair{A: u1, B: u2}, nil
}

// Key encodes the pair as a single string. The length prefix keeps the
// encoding unambiguous for ids containing the separator.
func (p Pair) Key() string {
	return fmt.Sprintf("%d:%s:%s", len(p.A), p.A, p.B)
}

// Contains reports whether userID is one of the participants.
func (p Pair) Contains(userID string) bool {
	return p.A == userID || p.B == userID
}
