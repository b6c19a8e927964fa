package domain

import "time"

// Participant is a registered trading counterparty.
type Participant struct {
	ParticipantID string
	CreatedAt     time.Time
}

// Holding is a participant's signed position in a single symbol. There is
// at most one holding per (participant, symbol) pair, and a holding whose
// quantity reaches zero is removed.
type Holding struct {
	ParticipantID string
	Symbol        string
	Quantity      int64
}
