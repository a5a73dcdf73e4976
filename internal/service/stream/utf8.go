package stream

import "unicode/utf8"

// runeBuffer holds back a trailing partial UTF-8 sequence so that every
// emitted chunk is valid on its own.
type runeBuffer struct {
	pending []byte
}

// Push appends fragment and returns the longest prefix that does not end
// inside a multi-byte sequence.
func (b *runeBuffer) Push(fragment string) string {
	data := append(b.pending, fragment...)
	cut := completePrefix(data)
	b.pending = append(b.pending[:0:0], data[cut:]...)
	return string(data[:cut])
}

// Flush returns whatever is held back, valid or not.
func (b *runeBuffer) Flush() string {
	rest := string(b.pending)
	b.pending = nil
	return rest
}

func completePrefix(p []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(p); i++ {
		start := len(p) - i
		if !utf8.RuneStart(p[start]) {
			continue
		}
		if utf8.FullRune(p[start:]) {
			return len(p)
		}
		return start
	}
	return len(p)
}
