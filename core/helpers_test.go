package core_test

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Artfain/verity/core"
)

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

var errDiskFull = errors.New("disk full")

// flakyStore fails the selected snapshot writes on demand.
type flakyStore struct {
	core.Store
	mu           sync.Mutex
	failChain    bool
	failAccounts bool
	failNodes    bool
}

func (s *flakyStore) setFailures(chain, accounts, nodes bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failChain, s.failAccounts, s.failNodes = chain, accounts, nodes
}

func (s *flakyStore) SaveChain(chain []*core.Block) error {
	s.mu.Lock()
	fail := s.failChain
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.SaveChain(chain)
}

func (s *flakyStore) SaveAccounts(accounts map[string]core.Account) error {
	s.mu.Lock()
	fail := s.failAccounts
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.SaveAccounts(accounts)
}

func (s *flakyStore) SaveNodes(nodes []string) error {
	s.mu.Lock()
	fail := s.failNodes
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.SaveNodes(nodes)
}

func newMemStore(t *testing.T) *flakyStore {
	t.Helper()
	store, err := core.NewMemLevelStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &flakyStore{Store: store}
}

type testEnv struct {
	state *core.State
	clock *core.ManualClock
	store *flakyStore
}

func newTestEnv(t *testing.T, observers ...core.Observer) *testEnv {
	t.Helper()
	store := newMemStore(t)
	clock := core.NewManualClock(testEpoch)
	cfg := core.DefaultConfig()
	cfg.Backend = core.BackendMemory
	state, err := core.NewState(cfg, core.StateOptions{
		Store:      store,
		Clock:      clock,
		RandSource: rand.NewSource(7),
		Observers:  observers,
	})
	require.NoError(t, err)
	return &testEnv{state: state, clock: clock, store: store}
}

func (e *testEnv) register(t *testing.T, names ...string) []core.NodeID {
	t.Helper()
	ids := make([]core.NodeID, len(names))
	for i, name := range names {
		id, err := e.state.Registry.Register(name, "10.0.0."+string(rune('1'+i)))
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func (e *testEnv) open(t *testing.T, uploader string, verdict core.Verdict, confidence float64, prediction core.Verdict, fee int64) *core.Round {
	t.Helper()
	round, err := e.state.Consensus.Open(core.Submission{
		VideoHash:    "ab12",
		AIVerdict:    verdict,
		AIConfidence: confidence,
		Uploader:     uploader,
		Prediction:   prediction,
	}, fee)
	require.NoError(t, err)
	return round
}
