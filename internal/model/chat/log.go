package chat

import "sync"

// Log is the append-only turn record of one session.
// Reads take a copy so callers never observe a later append.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{turns: make([]Turn, 0, 16)}
}

// Append records turn at the end of the log.
func (l *Log) Append(turn Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
}

// Len returns the number of stored turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Snapshot returns the turns in conversation order.
func (l *Log) Snapshot() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make([]Turn, len(l.turns))
	copy(copied, l.turns)
	return copied
}

// Project maps every turn to its display form. Timestamps are dropped unless
// withTimestamps is set.
func (l *Log) Project(withTimestamps bool) []Message {
	turns := l.Snapshot()
	messages := make([]Message, 0, len(turns))
	for _, turn := range turns {
		msg := Message{Content: turn.Content, Role: turn.Role}
		if withTimestamps {
			ts := turn.Timestamp
			msg.Timestamp = &ts
		}
		messages = append(messages, msg)
	}
	return messages
}
