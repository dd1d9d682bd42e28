package core

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is a judgment about a submitted video.
type Verdict string

const (
	Real      Verdict = "REAL"
	Fake      Verdict = "FAKE"
	Uncertain Verdict = "UNCERTAIN"
)

// ParseVote accepts only REAL or FAKE, case-insensitively.
func ParseVote(s string) (Verdict, error) {
	switch v := Verdict(strings.ToUpper(strings.TrimSpace(s))); v {
	case Real, Fake:
		return v, nil
	default:
		return "", fmt.Errorf("vote %q must be REAL or FAKE: %w", s, ErrInvalidArgument)
	}
}

// ParseVerdict maps a classifier label onto a Verdict. Labels other than
// the real/fake family read as Uncertain.
func ParseVerdict(label string) Verdict {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "REAL":
		return Real
	case "FAKE", "AI-GENERATED", "AI_GENERATED", "DEEPFAKE":
		return Fake
	default:
		return Uncertain
	}
}

// Vote is one node's judgment within a round.
type Vote struct {
	Node  NodeID  `json:"node"`
	Value Verdict `json:"vote"`
}

// Submission is what an uploader puts up for judgment.
type Submission struct {
	VideoHash    string  `json:"video_hash"`
	AIVerdict    Verdict `json:"ai_verdict"`
	AIConfidence float64 `json:"ai_confidence"`
	Uploader     string  `json:"uploader"`
	Prediction   Verdict `json:"uploader_prediction"`
}

// RoundState is the lifecycle position of a round.
type RoundState string

const (
	RoundOpen      RoundState = "OPEN"
	RoundFinalized RoundState = "FINALIZED"
	RoundDiscarded RoundState = "DISCARDED"
)

// Round is an in-flight judgment.
type Round struct {
	ID         string     `json:"id"`
	Submission Submission `json:"data"`
	Votes      []Vote     `json:"votes"`
	CreatedAt  time.Time  `json:"created_at"`
	FeePool    int64      `json:"fee_pool"`
}

func (r *Round) hasVoted(node NodeID) bool {
	for _, v := range r.Votes {
		if v.Node == node {
			return true
		}
	}
	return false
}

func (r *Round) voters() []string {
	out := make([]string, len(r.Votes))
	for i, v := range r.Votes {
		out[i] = string(v.Node)
	}
	return out
}

func (r *Round) clone() *Round {
	c := *r
	c.Votes = append([]Vote(nil), r.Votes...)
	return &c
}

// Payload keys written into finalized blocks.
const (
	FieldRoundID       = "round_id"
	FieldVideoHash     = "video_hash"
	FieldAIVerdict     = "ai_verdict"
	FieldAIConfidence  = "ai_confidence"
	FieldUploader      = "uploader"
	FieldPrediction    = "uploader_prediction"
	FieldFeePool       = "fee_pool"
	FieldVotes         = "votes"
	FieldBlockCreator  = "block_creator"
	FieldPath          = "path"
	FieldAIScore       = "ai_score"
	FieldHumanScore    = "human_score"
	FieldFinalScore    = "final_score"
	FieldAIWeight      = "ai_weight"
	FieldHumanWeight   = "human_weight"
	FieldFinalResult   = "final_result"
	FieldCorrectVoters = "correct_voters"
)

func (r *Round) payload() map[string]any {
	votes := make([]any, len(r.Votes))
	for i, v := range r.Votes {
		votes[i] = map[string]any{"node": string(v.Node), "vote": string(v.Value)}
	}
	return map[string]any{
		FieldRoundID:      r.ID,
		FieldVideoHash:    r.Submission.VideoHash,
		FieldAIVerdict:    string(r.Submission.AIVerdict),
		FieldAIConfidence: r.Submission.AIConfidence,
		FieldUploader:     r.Submission.Uploader,
		FieldPrediction:   string(r.Submission.Prediction),
		FieldFeePool:      r.FeePool,
		FieldVotes:        votes,
	}
}
