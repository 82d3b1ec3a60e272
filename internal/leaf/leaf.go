// Package leaf holds the value types shared by the classification flow.
package leaf

import (
	"fmt"
	"math"
)

// Threshold is the decision boundary. Scores strictly above it are healthy.
const Threshold = 0.5

// Label is the binary health classification of one leaf image.
type Label string

const (
	Healthy  Label = "healthy"
	Diseased Label = "diseased"
)

// DisplayName returns the label text shown next to a result.
func (l Label) DisplayName() string {
	switch l {
	case Healthy:
		return "Healthy Leaf"
	case Diseased:
		return "Diseased Leaf"
	default:
		return string(l)
	}
}

// UploadedItem is one user-submitted file. Treat it as immutable once received.
type UploadedItem struct {
	Name string
	Data []byte
}

// FailureKind classifies a per-item failure.
type FailureKind string

const (
	FailureDecode    FailureKind = "decode"
	FailureInference FailureKind = "inference"
)

// Result is either a Verdict or a Failure. Consumers switch on the concrete type.
type Result interface {
	Name() string
	isResult()
}

// Verdict is a finalized classification for one item.
type Verdict struct {
	ItemName   string
	Label      Label
	Confidence float64
	Score      float64
}

// Name implements Result.
func (v Verdict) Name() string { return v.ItemName }

func (Verdict) isResult() {}

// ConfidencePercent renders the confidence as a percentage with two decimals.
func (v Verdict) ConfidencePercent() string {
	return fmt.Sprintf("%.2f", math.Round(v.Confidence*10000)/100)
}

// Failure records an item that could not be classified.
type Failure struct {
	ItemName string
	Kind     FailureKind
	Message  string
}

// Name implements Result.
func (f Failure) Name() string { return f.ItemName }

func (Failure) isResult() {}

// Decide turns a raw score into a verdict. A score of exactly Threshold is diseased.
func Decide(itemName string, score float64) Verdict {
	if score > Threshold {
		return Verdict{ItemName: itemName, Label: Healthy, Confidence: score, Score: score}
	}
	return Verdict{ItemName: itemName, Label: Diseased, Confidence: 1 - score, Score: score}
}

// Summary aggregates a batch. Healthy+Diseased equals the number of verdicts.
type Summary struct {
	Healthy  int
	Diseased int
	Failed   int
}

// Summarize counts verdicts by label and failures separately.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch v := r.(type) {
		case Verdict:
			if v.Label == Healthy {
				s.Healthy++
			} else {
				s.Diseased++
			}
		case Failure:
			s.Failed++
		}
	}
	return s
}
