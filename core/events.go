package core

// EventType names a round lifecycle event.
type EventType string

const (
	EventRoundOpened    EventType = "round_opened"
	EventVoteCast       EventType = "vote_cast"
	EventRoundFinalized EventType = "round_finalized"
	EventRoundDiscarded EventType = "round_discarded"
)

// Event is pushed to observers after each state change.
type Event struct {
	// Seq increases with every event in the order the changes were made.
	Seq     uint64    `json:"seq"`
	Type    EventType `json:"type"`
	Round   *Round    `json:"round,omitempty"`
	Vote    *Vote     `json:"vote,omitempty"`
	Outcome *Outcome  `json:"outcome,omitempty"`
}

// Observer receives round events.
type Observer func(Event)
