package core

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// State wires the chain, the accounts, the node set and the round engine
// over one Store.
type State struct {
	Config     Config
	Store      Store
	Ledger     *Ledger
	Accounts   *Accounts
	Registry   *Registry
	Consensus  *Consensus
	Classifier *SafeClassifier
	Metrics    *Metrics
}

// StateOptions are the collaborators NewState does not build itself. Zero
// values select the defaults.
type StateOptions struct {
	Store      Store
	Classifier Classifier
	Clock      Clock
	RandSource rand.Source
	Registerer prometheus.Registerer
	Logger     *zerolog.Logger
	Observers  []Observer
}

// NewState opens the configured store (unless one is given) and loads every
// component from it.
func NewState(cfg Config, opts StateOptions) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	src := opts.RandSource
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = StableClassifier{}
	}

	store := opts.Store
	if store == nil {
		var err error
		if store, err = cfg.OpenStore(); err != nil {
			return nil, err
		}
	}

	ledger, err := NewLedger(store, clock)
	if err != nil {
		store.Close()
		return nil, err
	}
	accounts, err := NewAccounts(store, cfg.InitialBalance)
	if err != nil {
		store.Close()
		return nil, err
	}
	registry, err := NewRegistry(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to register metrics: %v", err)
	}

	consensusOpts := []Option{
		WithLogger(logger.With().Str("module", "consensus").Logger()),
		WithMetrics(metrics),
	}
	for _, o := range opts.Observers {
		consensusOpts = append(consensusOpts, WithObserver(o))
	}
	selector := NewSelector(cfg.WinCooldown, src)

	return &State{
		Config:     cfg,
		Store:      store,
		Ledger:     ledger,
		Accounts:   accounts,
		Registry:   registry,
		Consensus:  NewConsensus(ledger, accounts, registry, selector, clock, cfg.RoundTimeout, consensusOpts...),
		Classifier: NewSafeClassifier(classifier, cfg.ClassifierTimeout, logger.With().Str("module", "classifier").Logger()),
		Metrics:    metrics,
	}, nil
}

// OpenRequest asks for a new judgment round.
type OpenRequest struct {
	Uploader   string
	Prediction string
	// ContentRef is handed to the classifier. Defaults to the video hash.
	ContentRef string
	// Content, when present, is hashed into the video hash.
	Content   []byte
	VideoHash string
	// Fee defaults to Config.DefaultFee when nil.
	Fee *int64
}

// OpenRound classifies the content and then opens a round. Classification
// runs before the round lock is taken.
func (s *State) OpenRound(ctx context.Context, req OpenRequest) (*Round, error) {
	videoHash := req.VideoHash
	if len(req.Content) > 0 {
		videoHash = fmt.Sprintf("%x", sha256.Sum256(req.Content))
	}
	if videoHash == "" && req.ContentRef != "" {
		videoHash = fmt.Sprintf("%x", sha256.Sum256([]byte(req.ContentRef)))
	}
	if videoHash == "" {
		return nil, fmt.Errorf("content, content reference or video hash required: %w", ErrInvalidArgument)
	}
	if req.Uploader == "" {
		return nil, fmt.Errorf("uploader required: %w", ErrInvalidArgument)
	}
	if _, err := ParseVote(req.Prediction); err != nil {
		return nil, fmt.Errorf("uploader prediction: %w", err)
	}
	fee := s.Config.DefaultFee
	if req.Fee != nil {
		fee = *req.Fee
	}

	// fail fast instead of classifying for a round that cannot open
	st, err := s.Consensus.Status()
	if err != nil {
		return nil, err
	}
	if st.Round != nil {
		return nil, fmt.Errorf("round %s is still pending: %w", st.Round.ID, ErrConflict)
	}

	ref := req.ContentRef
	if ref == "" {
		ref = videoHash
	}
	verdict, confidence := s.Classifier.Classify(ctx, ref)

	return s.Consensus.Open(Submission{
		VideoHash:    videoHash,
		AIVerdict:    verdict,
		AIConfidence: confidence,
		Uploader:     req.Uploader,
		Prediction:   Verdict(req.Prediction),
	}, fee)
}

// Close releases the store.
func (s *State) Close() error {
	if err := s.Store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %v", err)
	}
	return nil
}
