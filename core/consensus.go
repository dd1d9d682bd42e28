package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reward schedule applied when a round is finalized.
const (
	WinnerReward             = 20
	WinnerReputation         = 3
	CorrectVoterReward       = 5
	CorrectVoterReputation   = 1
	UploaderConfirmedReward  = 5
	UploaderOverturnedReward = 10
	PredictionRefund         = 10
	PredictionHitReputation  = 2
	PredictionMissReputation = 1
)

// Resolution paths recorded in blocks and metrics.
const (
	PathQuorum  = "quorum"
	PathTimeout = "timeout"
)

// DefaultRoundTimeout is how long a round stays open.
const DefaultRoundTimeout = 120 * time.Second

// Status describes the pending round, if any.
type Status struct {
	Round         *Round  `json:"pending_block,omitempty"`
	Remaining     float64 `json:"remaining_time"`
	RequiredVotes int     `json:"required_votes"`
	TotalNodes    int     `json:"total_nodes"`
}

// Outcome describes how a round ended.
type Outcome struct {
	RoundID string     `json:"round_id"`
	State   RoundState `json:"state"`
	Path    string     `json:"path"`
	Winner  string     `json:"winner,omitempty"`
	Score   *Score     `json:"score,omitempty"`
	Block   *Block     `json:"block,omitempty"`
}

// VoteResult carries either the still-open status or the outcome the vote
// triggered.
type VoteResult struct {
	Status  *Status  `json:"status,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Option configures a Consensus.
type Option func(c *Consensus)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Consensus) { c.logger = logger }
}

// WithMetrics records round outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Consensus) { c.metrics = m }
}

// WithObserver registers a callback for round events. Observers run after
// the consensus lock is released and must not block. Events of concurrent
// calls may be delivered interleaved; Event.Seq gives the commit order.
func WithObserver(o Observer) Option {
	return func(c *Consensus) { c.observers = append(c.observers, o) }
}

// Consensus runs at most one judgment round at a time. Expired rounds are
// resolved lazily: every Open, CastVote, Status and Sweep call first checks
// the pending round.
type Consensus struct {
	mu      sync.Mutex
	pending *Round
	seq     uint64

	ledger   *Ledger
	accounts *Accounts
	registry *Registry
	selector *Selector
	clock    Clock
	timeout  time.Duration

	logger    zerolog.Logger
	metrics   *Metrics
	observers []Observer
}

// NewConsensus creates a new consensus instance.
func NewConsensus(ledger *Ledger, accounts *Accounts, registry *Registry, selector *Selector, clock Clock, timeout time.Duration, opts ...Option) *Consensus {
	c := &Consensus{
		ledger:   ledger,
		accounts: accounts,
		registry: registry,
		selector: selector,
		clock:    clock,
		timeout:  timeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil {
		c.metrics.ChainHeight.Set(float64(ledger.Len()))
	}
	return c
}

// Open starts a round for sub and collects fee from the uploader. It fails
// with ErrConflict while another round is open and with
// ErrInsufficientFunds when the uploader cannot pay, in which case no round
// is created.
func (c *Consensus) Open(sub Submission, fee int64) (*Round, error) {
	if sub.Uploader == "" {
		return nil, fmt.Errorf("uploader required: %w", ErrInvalidArgument)
	}
	if sub.VideoHash == "" {
		return nil, fmt.Errorf("video hash required: %w", ErrInvalidArgument)
	}
	if fee < 0 {
		return nil, fmt.Errorf("negative fee %d: %w", fee, ErrInvalidArgument)
	}
	prediction, err := ParseVote(string(sub.Prediction))
	if err != nil {
		return nil, fmt.Errorf("uploader prediction: %w", err)
	}
	sub.Prediction = prediction
	sub.AIVerdict = ParseVerdict(string(sub.AIVerdict))
	sub.AIConfidence = clampConfidence(sub.AIConfidence)

	var events []Event
	defer func() { c.emit(events) }()
	c.mu.Lock()
	defer c.unlock(&events)

	now := c.clock.Now()
	if _, err := c.sweepLocked(now, &events); err != nil {
		return nil, err
	}
	if c.pending != nil {
		return nil, fmt.Errorf("round %s is still pending: %w", c.pending.ID, ErrConflict)
	}
	if err := c.accounts.Debit(sub.Uploader, fee); err != nil {
		return nil, err
	}

	round := &Round{
		ID:         uuid.NewString(),
		Submission: sub,
		Votes:      []Vote{},
		CreatedAt:  now,
		FeePool:    fee,
	}
	c.pending = round
	if c.metrics != nil {
		c.metrics.RoundsOpened.Inc()
	}
	c.logger.Info().
		Str("round", round.ID).
		Str("uploader", sub.Uploader).
		Str("video", sub.VideoHash).
		Str("ai_verdict", string(sub.AIVerdict)).
		Float64("ai_confidence", sub.AIConfidence).
		Int64("fee", fee).
		Msg("round opened")

	snapshot := round.clone()
	events = append(events, Event{Type: EventRoundOpened, Round: snapshot})
	return snapshot, nil
}

// CastVote records value from node on the pending round and resolves the
// round if that completes the quorum.
func (c *Consensus) CastVote(node NodeID, value string) (*VoteResult, error) {
	var events []Event
	defer func() { c.emit(events) }()
	c.mu.Lock()
	defer c.unlock(&events)

	now := c.clock.Now()
	if _, err := c.sweepLocked(now, &events); err != nil {
		return nil, err
	}
	if c.pending == nil {
		return nil, fmt.Errorf("no pending round: %w", ErrNotFound)
	}
	verdict, err := ParseVote(value)
	if err != nil {
		return nil, err
	}
	if !c.registry.Contains(node) {
		return nil, fmt.Errorf("node %s is not registered: %w", node, ErrUnauthorized)
	}
	round := c.pending
	if round.hasVoted(node) {
		return nil, fmt.Errorf("node %s already voted in round %s: %w", node, round.ID, ErrConflict)
	}

	vote := Vote{Node: node, Value: verdict}
	round.Votes = append(round.Votes, vote)
	outcome, err := c.sweepLocked(now, &events)
	if err != nil {
		if c.pending == round {
			round.Votes = round.Votes[:len(round.Votes)-1]
		}
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.VotesCast.Inc()
	}
	c.logger.Debug().Str("round", round.ID).Str("node", string(node)).Str("vote", string(verdict)).Msg("vote recorded")
	// the vote event precedes the resolution it triggered
	voteEvent := Event{Type: EventVoteCast, Vote: &vote, Round: round.clone()}
	if outcome != nil {
		resolved := events[len(events)-1]
		events = append(events[:len(events)-1], voteEvent, resolved)
		return &VoteResult{Outcome: outcome}, nil
	}
	events = append(events, voteEvent)
	return &VoteResult{Status: c.statusLocked(now)}, nil
}

// Status resolves an expired round and then reports the pending round.
func (c *Consensus) Status() (*Status, error) {
	var events []Event
	defer func() { c.emit(events) }()
	c.mu.Lock()
	defer c.unlock(&events)

	now := c.clock.Now()
	if _, err := c.sweepLocked(now, &events); err != nil {
		return nil, err
	}
	return c.statusLocked(now), nil
}

// Sweep resolves the pending round if it has expired or reached quorum. It
// returns nil when nothing changed.
func (c *Consensus) Sweep() (*Outcome, error) {
	var events []Event
	defer func() { c.emit(events) }()
	c.mu.Lock()
	defer c.unlock(&events)
	return c.sweepLocked(c.clock.Now(), &events)
}

// RunSweeper calls Sweep every interval until ctx is done, so expired rounds
// resolve without waiting for the next request.
func (c *Consensus) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Sweep(); err != nil {
				c.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (c *Consensus) statusLocked(now time.Time) *Status {
	total := c.registry.Count()
	st := &Status{RequiredVotes: RequiredVotes(total), TotalNodes: total}
	if c.pending == nil {
		return st
	}
	st.Round = c.pending.clone()
	remaining := c.timeout - now.Sub(c.pending.CreatedAt)
	st.Remaining = max(0, remaining.Seconds())
	return st
}

// sweepLocked evaluates the finalize conditions. Expiry wins over quorum.
func (c *Consensus) sweepLocked(now time.Time, events *[]Event) (*Outcome, error) {
	if c.pending == nil {
		return nil, nil
	}
	if now.Sub(c.pending.CreatedAt) >= c.timeout {
		return c.resolveTimeoutLocked(now, events)
	}
	if len(c.pending.Votes) >= RequiredVotes(c.registry.Count()) {
		return c.resolveQuorumLocked(now, events)
	}
	return nil, nil
}

func (c *Consensus) resolveTimeoutLocked(now time.Time, events *[]Event) (*Outcome, error) {
	round := c.pending
	if len(round.Votes) == 0 {
		c.pending = nil
		if c.metrics != nil {
			c.metrics.RoundsDiscarded.Inc()
		}
		c.logger.Info().Str("round", round.ID).Int64("fee_forfeited", round.FeePool).Msg("round discarded without votes")
		outcome := &Outcome{RoundID: round.ID, State: RoundDiscarded, Path: PathTimeout}
		*events = append(*events, Event{Type: EventRoundDiscarded, Round: round.clone(), Outcome: outcome})
		return outcome, nil
	}

	var (
		winner string
		block  *Block
	)
	err := c.accounts.Update(func(tx *AccountTx) error {
		var ok bool
		winner, ok = c.selector.Pick(round.voters(), tx, now)
		if ok {
			if err := creditWinner(tx, winner, now); err != nil {
				return err
			}
		}
		data := round.payload()
		data[FieldPath] = PathTimeout
		data[FieldBlockCreator] = creatorValue(winner)
		var err error
		block, err = c.ledger.Append(data)
		return err
	})
	block, err = c.undoAppend(block, err)
	return c.finishLocked(round, PathTimeout, winner, nil, block, err, events)
}

func (c *Consensus) resolveQuorumLocked(now time.Time, events *[]Event) (*Outcome, error) {
	round := c.pending
	sub := round.Submission

	values := make([]Verdict, len(round.Votes))
	for i, v := range round.Votes {
		values[i] = v.Value
	}
	score := ComputeScore(sub.AIVerdict, sub.AIConfidence, values)

	correct := make([]string, 0, len(round.Votes))
	for _, v := range round.Votes {
		if v.Value == score.FinalResult {
			correct = append(correct, string(v.Node))
		}
	}

	var (
		winner string
		block  *Block
	)
	err := c.accounts.Update(func(tx *AccountTx) error {
		var ok bool
		winner, ok = c.selector.Pick(correct, tx, now)
		for _, id := range correct {
			if ok && id == winner {
				continue
			}
			if err := credit(tx, id, CorrectVoterReputation, CorrectVoterReward); err != nil {
				return err
			}
		}
		if ok {
			if err := creditWinner(tx, winner, now); err != nil {
				return err
			}
			if round.FeePool > 0 {
				if err := tx.CreditBalance(winner, round.FeePool); err != nil {
					return err
				}
			}
		}

		uploaderReward := int64(UploaderOverturnedReward)
		if score.FinalResult == sub.AIVerdict {
			uploaderReward = UploaderConfirmedReward
		}
		if err := tx.CreditReward(sub.Uploader, uploaderReward); err != nil {
			return err
		}
		if sub.Prediction == score.FinalResult {
			if err := tx.CreditBalance(sub.Uploader, PredictionRefund); err != nil {
				return err
			}
			if err := tx.CreditReputation(sub.Uploader, PredictionHitReputation); err != nil {
				return err
			}
		} else if err := tx.CreditReputation(sub.Uploader, PredictionMissReputation); err != nil {
			return err
		}

		data := round.payload()
		data[FieldPath] = PathQuorum
		data[FieldAIScore] = score.AIScore
		data[FieldHumanScore] = score.HumanScore
		data[FieldFinalScore] = score.FinalScore
		data[FieldAIWeight] = AIWeight
		data[FieldHumanWeight] = HumanWeight
		data[FieldFinalResult] = string(score.FinalResult)
		data[FieldCorrectVoters] = stringsToAny(correct)
		data[FieldBlockCreator] = creatorValue(winner)
		var err error
		block, err = c.ledger.Append(data)
		return err
	})
	block, err = c.undoAppend(block, err)
	return c.finishLocked(round, PathQuorum, winner, &score, block, err, events)
}

// finishLocked publishes a resolution. A nil block leaves the round open.
// A block with an error only happens when the block could not be dropped
// again; the round is then over so it is never appended twice.
func (c *Consensus) finishLocked(round *Round, path, winner string, score *Score, block *Block, err error, events *[]Event) (*Outcome, error) {
	if block == nil {
		c.logger.Error().Err(err).Str("round", round.ID).Str("path", path).Msg("failed to finalize round")
		return nil, err
	}

	c.pending = nil
	outcome := &Outcome{
		RoundID: round.ID,
		State:   RoundFinalized,
		Path:    path,
		Winner:  winner,
		Score:   score,
		Block:   block,
	}
	if c.metrics != nil {
		c.metrics.RoundsFinalized.WithLabelValues(path).Inc()
		c.metrics.ChainHeight.Set(float64(block.Index + 1))
	}
	*events = append(*events, Event{Type: EventRoundFinalized, Round: round.clone(), Outcome: outcome})

	if err != nil {
		c.logger.Error().Err(err).Str("round", round.ID).Int("block", block.Index).Msg("block kept but account update was not persisted")
		return outcome, err
	}
	c.logger.Info().
		Str("round", round.ID).
		Str("path", path).
		Str("winner", winner).
		Int("block", block.Index).
		Str("hash", block.Hash).
		Msg("round finalized")
	return outcome, nil
}

// undoAppend drops a block whose account changes failed to persist, so the
// chain and the accounts stay in step.
func (c *Consensus) undoAppend(block *Block, err error) (*Block, error) {
	if err == nil || block == nil {
		return block, err
	}
	if rerr := c.ledger.Rollback(block); rerr != nil {
		c.logger.Error().Err(rerr).Int("block", block.Index).Msg("failed to drop block after account update failed")
		return block, errors.Join(err, rerr)
	}
	c.logger.Warn().Err(err).Int("block", block.Index).Msg("dropped block, account update was not persisted")
	return nil, err
}

// unlock numbers the events collected under the lock, then releases it.
func (c *Consensus) unlock(events *[]Event) {
	for i := range *events {
		c.seq++
		(*events)[i].Seq = c.seq
	}
	c.mu.Unlock()
}

func (c *Consensus) emit(events []Event) {
	for _, e := range events {
		for _, o := range c.observers {
			o(e)
		}
	}
}

func creditWinner(tx *AccountTx, id string, now time.Time) error {
	if err := credit(tx, id, WinnerReputation, WinnerReward); err != nil {
		return err
	}
	tx.SetLastWin(id, now)
	return nil
}

func credit(tx *AccountTx, id string, reputation, reward int64) error {
	return errors.Join(tx.CreditReputation(id, reputation), tx.CreditReward(id, reward))
}

// creatorValue keeps "no winner" as JSON null in the block payload.
func creatorValue(winner string) any {
	if winner == "" {
		return nil
	}
	return winner
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
