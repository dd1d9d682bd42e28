package core_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Artfain/verity/core"
)

func newClassifiedState(t *testing.T, classifier core.Classifier) *core.State {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Backend = core.BackendMemory
	state, err := core.NewState(cfg, core.StateOptions{
		Store:      newMemStore(t),
		Classifier: classifier,
		Clock:      core.NewManualClock(testEpoch),
		RandSource: rand.NewSource(3),
	})
	require.NoError(t, err)
	return state
}

func TestOpenRoundClassifiesContent(t *testing.T) {
	var calls atomic.Int32
	var seen atomic.Value
	state := newClassifiedState(t, core.ClassifierFunc(func(_ context.Context, ref string) (core.Verdict, float64, error) {
		calls.Add(1)
		seen.Store(ref)
		return "deepfake", 87, nil
	}))

	content := []byte("frame data")
	round, err := state.OpenRound(context.Background(), core.OpenRequest{
		Uploader:   "U",
		Prediction: "fake",
		ContentRef: "uploads/clip.mp4",
		Content:    content,
	})
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%x", sha256.Sum256(content)), round.Submission.VideoHash)
	require.Equal(t, core.Fake, round.Submission.AIVerdict)
	require.Equal(t, 87.0, round.Submission.AIConfidence)
	require.Equal(t, core.Fake, round.Submission.Prediction)
	require.Equal(t, state.Config.DefaultFee, round.FeePool)
	require.Equal(t, "uploads/clip.mp4", seen.Load())
	require.Equal(t, int64(80), state.Accounts.Get("U").Balance)

	// a pending round is rejected before the classifier runs
	_, err = state.OpenRound(context.Background(), core.OpenRequest{Uploader: "V", Prediction: "REAL", VideoHash: "ff"})
	require.ErrorIs(t, err, core.ErrConflict)
	require.Equal(t, int32(1), calls.Load())
}

func TestOpenRoundHashSources(t *testing.T) {
	fee := int64(5)
	tests := []struct {
		name string
		req  core.OpenRequest
		hash string
	}{
		{
			name: "explicit hash",
			req:  core.OpenRequest{VideoHash: "abc", ContentRef: "clip.mp4"},
			hash: "abc",
		},
		{
			name: "content reference only",
			req:  core.OpenRequest{ContentRef: "clip.mp4"},
			hash: fmt.Sprintf("%x", sha256.Sum256([]byte("clip.mp4"))),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			state := newClassifiedState(t, nil)
			tc.req.Uploader = "U"
			tc.req.Prediction = "REAL"
			tc.req.Fee = &fee
			round, err := state.OpenRound(context.Background(), tc.req)
			require.NoError(t, err)
			require.Equal(t, tc.hash, round.Submission.VideoHash)
			require.Equal(t, int64(5), round.FeePool)
			require.Equal(t, int64(95), state.Accounts.Get("U").Balance)
		})
	}
}

func TestOpenRoundRejectsBadRequests(t *testing.T) {
	state := newClassifiedState(t, nil)
	tests := map[string]core.OpenRequest{
		"no content":     {Uploader: "U", Prediction: "REAL"},
		"no uploader":    {VideoHash: "abc", Prediction: "REAL"},
		"bad prediction": {Uploader: "U", VideoHash: "abc", Prediction: "UNSURE"},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := state.OpenRound(context.Background(), req)
			require.ErrorIs(t, err, core.ErrInvalidArgument)
		})
	}
}

func TestOpenRoundFailingClassifier(t *testing.T) {
	state := newClassifiedState(t, core.ClassifierFunc(func(context.Context, string) (core.Verdict, float64, error) {
		return "", 0, fmt.Errorf("model not loaded")
	}))
	round, err := state.OpenRound(context.Background(), core.OpenRequest{Uploader: "U", Prediction: "REAL", VideoHash: "abc"})
	require.NoError(t, err)
	require.Equal(t, core.Uncertain, round.Submission.AIVerdict)
	require.Zero(t, round.Submission.AIConfidence)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, core.DefaultConfig().Validate())
	require.Equal(t, core.DefaultRoundTimeout, core.DefaultConfig().RoundTimeout)
	require.Equal(t, core.DefaultWinCooldown, core.DefaultConfig().WinCooldown)

	tests := map[string]func(*core.Config){
		"unknown backend":   func(c *core.Config) { c.Backend = "sqlite" },
		"missing data dir":  func(c *core.Config) { c.DataDir = "" },
		"zero timeout":      func(c *core.Config) { c.RoundTimeout = 0 },
		"negative cooldown": func(c *core.Config) { c.WinCooldown = -time.Second },
		"negative fee":      func(c *core.Config) { c.DefaultFee = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := core.DefaultConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := core.DefaultConfig()
	cfg.Backend = core.BackendMemory
	cfg.DataDir = ""
	require.NoError(t, cfg.Validate())
}

func TestConfigOpenStore(t *testing.T) {
	for _, backend := range []string{core.BackendLevelDB, core.BackendFile, core.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			cfg := core.DefaultConfig()
			cfg.Backend = backend
			cfg.DataDir = t.TempDir()
			state, err := core.NewState(cfg, core.StateOptions{Clock: core.NewManualClock(testEpoch)})
			require.NoError(t, err)
			_, err = state.Registry.Register("A", "10.0.0.1")
			require.NoError(t, err)
			require.NoError(t, state.Close())

			if backend == core.BackendMemory {
				return
			}
			reopened, err := core.NewState(cfg, core.StateOptions{Clock: core.NewManualClock(testEpoch)})
			require.NoError(t, err)
			defer reopened.Close()
			require.Equal(t, 1, reopened.Registry.Count())
			require.Equal(t, 1, reopened.Ledger.Len())
		})
	}
}
