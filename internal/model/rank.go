package model

import (
	"fmt"
	"math"
	"sort"
)

// Softmax returns the probability distribution for raw logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// Rank picks the k highest scores and labels them from classes. Scores are
// probabilities in [0,1]; confidences in the result are percentages. Scores
// past the end of classes are ignored. Equal scores keep vocabulary order.
func Rank(scores []float32, classes []string, k int) RankedResult {
	n := len(scores)
	if len(classes) < n {
		n = len(classes)
	}
	if k > n {
		k = n
	}
	if k <= 0 {
		return RankedResult{}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	result := make(RankedResult, k)
	for i := 0; i < k; i++ {
		result[i] = Label{
			Name:       classes[idx[i]],
			Confidence: 100 * float64(scores[idx[i]]),
		}
	}
	return result
}

// probabilitySlack absorbs float32 rounding in probabilities that sum to 1.
const probabilitySlack = 1e-5

// Score turns raw model outputs into exactly k ranked labels. Outputs are
// passed through softmax when the metadata asks for it; afterwards every score
// must be a probability, otherwise confidences would leave [0,100].
func (m Metadata) Score(raw []float32, k int) (RankedResult, error) {
	var scores []float32
	if m.Softmax {
		scores = Softmax(raw)
	} else {
		scores = append([]float32(nil), raw...)
	}
	for i, v := range scores {
		if !(v >= -probabilitySlack && v <= 1+probabilitySlack) {
			return nil, fmt.Errorf("%w: output %d is %g, not a probability (set softmax for logit models)", ErrComputationFailed, i, v)
		}
		scores[i] = min(max(v, 0), 1)
	}

	result := Rank(scores, m.Classes, k)
	if len(result) != k {
		return nil, fmt.Errorf("%w: model produced %d scores for top %d", ErrComputationFailed, len(result), k)
	}
	return result, nil
}
