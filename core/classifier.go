package core

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Classifier inspects the referenced content and returns a verdict with a
// confidence in percent. Implementations may be slow.
type Classifier interface {
	Classify(ctx context.Context, contentRef string) (Verdict, float64, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, contentRef string) (Verdict, float64, error)

func (f ClassifierFunc) Classify(ctx context.Context, contentRef string) (Verdict, float64, error) {
	return f(ctx, contentRef)
}

// SafeClassifier bounds a classifier call by a deadline and maps every
// failure, including panics, to (Uncertain, 0).
type SafeClassifier struct {
	inner   Classifier
	timeout time.Duration
	logger  zerolog.Logger
}

func NewSafeClassifier(inner Classifier, timeout time.Duration, logger zerolog.Logger) *SafeClassifier {
	return &SafeClassifier{inner: inner, timeout: timeout, logger: logger}
}

type classification struct {
	verdict    Verdict
	confidence float64
	err        error
}

// Classify never fails. Verdicts outside {REAL, FAKE} become Uncertain and
// confidence is clamped to [0, 100].
func (c *SafeClassifier) Classify(ctx context.Context, contentRef string) (Verdict, float64) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ch := make(chan classification, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- classification{err: fmt.Errorf("classifier panicked: %v", r)}
			}
		}()
		v, conf, err := c.inner.Classify(ctx, contentRef)
		ch <- classification{verdict: v, confidence: conf, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			c.logger.Warn().Err(res.err).Str("content", contentRef).Msg("classifier failed, using conservative verdict")
			return Uncertain, 0
		}
		return ParseVerdict(string(res.verdict)), clampConfidence(res.confidence)
	case <-ctx.Done():
		c.logger.Warn().Err(ctx.Err()).Str("content", contentRef).Msg("classifier timed out, using conservative verdict")
		return Uncertain, 0
	}
}

// StableClassifier is a deterministic stand-in for a real detector: the
// same reference always yields the same verdict. References containing
// "fake" or "real" are judged by keyword.
type StableClassifier struct{}

func (StableClassifier) Classify(_ context.Context, contentRef string) (Verdict, float64, error) {
	name := strings.ToLower(contentRef)
	switch {
	case strings.Contains(name, "fake"):
		return Fake, 98.5, nil
	case strings.Contains(name, "real"):
		return Real, 96.2, nil
	}

	sum := sha256.Sum256([]byte(name))
	n := new(big.Int).SetBytes(sum[:])
	verdict := Real
	if n.Bit(0) == 0 {
		verdict = Fake
	}
	rem := new(big.Int).Mod(n, big.NewInt(2000)).Int64()
	return verdict, 80 + float64(rem)/100, nil
}
