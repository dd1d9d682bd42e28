package core

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Blend weights and decision threshold of the hybrid score.
const (
	AIWeight      = 0.6
	HumanWeight   = 0.4
	RealThreshold = 0.7
	neutralScore  = 0.5
	maxConfidence = 100.0
)

// Score is the outcome of blending the classifier with the human votes.
type Score struct {
	AIScore     float64 `json:"ai_score"`
	HumanScore  float64 `json:"human_score"`
	FinalScore  float64 `json:"final_score"`
	FinalResult Verdict `json:"final_result"`
}

// ComputeScore blends the classifier verdict (confidence in percent) with
// the share of REAL votes. It has no side effects.
func ComputeScore(aiVerdict Verdict, aiConfidence float64, votes []Verdict) Score {
	confidence := clampConfidence(aiConfidence) / maxConfidence

	var aiScore float64
	switch aiVerdict {
	case Real:
		aiScore = confidence
	case Fake:
		aiScore = 1 - confidence
	default:
		aiScore = neutralScore
	}

	humanScore := neutralScore
	if len(votes) > 0 {
		reals := 0
		for _, v := range votes {
			if v == Real {
				reals++
			}
		}
		humanScore = float64(reals) / float64(len(votes))
	}

	final := floats.Dot([]float64{AIWeight, HumanWeight}, []float64{aiScore, humanScore})
	result := Fake
	if final > RealThreshold {
		result = Real
	}
	return Score{
		AIScore:     aiScore,
		HumanScore:  humanScore,
		FinalScore:  final,
		FinalResult: result,
	}
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(maxConfidence, c))
}
