package detection

import (
	"math"
	"sort"
)

const (
	primaryThreshold    = 0.5
	supportThreshold    = 0.5
	contradictThreshold = 0.7
	supportBonus        = 0.1
	contradictPenalty   = 0.15

	// multiVectorMargin is the widest gap between the top two candidates
	// that still counts as a conflict.
	multiVectorMargin = 0.1
	scoreEpsilon      = 1e-9
)

// Catalogue is the fixed set of attack hypotheses, evaluated in order.
var Catalogue = []Hypothesis{
	{
		Label:      AlertSQLInjection,
		Primary:    SQLInjectionScore,
		Support:    []string{UnexpectedFieldScore, UserAgentAnomalyScore},
		Contradict: []string{LoginVelocity, SequentialObjectAccess},
	},
	{
		Label:      AlertCredentialStuffing,
		Primary:    LoginVelocity,
		Support:    []string{RequestFrequency, GeoDeviationScore},
		Contradict: []string{SQLInjectionScore, SequentialObjectAccess},
	},
	{
		Label:      AlertPossibleIDOR,
		Primary:    SequentialObjectAccess,
		Support:    []string{RoleDeviationScore, RequestFrequency},
		Contradict: []string{SQLInjectionScore, LoginVelocity},
	},
	{
		Label:      AlertBusinessLogicAbuse,
		Primary:    RepeatedActionScore,
		Support:    []string{RequestFrequency, RoleDeviationScore},
		Contradict: []string{SQLInjectionScore, LoginVelocity},
	},
}

// ClassifyHypotheses evaluates the catalogue against the combined features
// and selects the best-supported hypothesis.
func ClassifyHypotheses(a Analysis) Analysis {
	return classify(a, Catalogue)
}

func classify(a Analysis, catalogue []Hypothesis) Analysis {
	combined := combine(a.Sequence, a.Payload, a.Behavior)

	candidates := []Evidence{}
	for _, h := range catalogue {
		if ev, ok := evaluate(h, combined, a.RiskScore); ok {
			candidates = append(candidates, ev)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	a.Candidates = candidates

	if len(candidates) == 0 {
		a.AlertType = AlertNone
		a.AlertConfidence = 0.0
		a.Summary = Summary{
			SelectedLabel:         AlertNone,
			SupportingEvidence:    []string{},
			ContradictingEvidence: []string{},
		}
		return a
	}

	top := candidates[0]
	label := top.Label
	if len(candidates) > 1 && math.Abs(top.Score-candidates[1].Score) <= multiVectorMargin+scoreEpsilon {
		label = AlertMultiVectorAttack
	}

	a.AlertType = label
	a.AlertConfidence = top.Score
	a.Summary = Summary{
		SelectedLabel:         label,
		Confidence:            top.Score,
		SupportingEvidence:    top.Supporting,
		ContradictingEvidence: top.Contradicting,
	}
	return a
}

// evaluate scores one hypothesis. It reports false when the primary feature
// is too weak for the hypothesis to be a candidate.
func evaluate(h Hypothesis, features FeatureSet, risk float64) (Evidence, bool) {
	primary := features[h.Primary]
	if primary <= primaryThreshold {
		return Evidence{}, false
	}

	ev := Evidence{
		Label:         h.Label,
		Supporting:    []string{},
		Contradicting: []string{},
	}
	score := primary
	for _, k := range h.Support {
		if features[k] > supportThreshold {
			score += supportBonus
			ev.Supporting = append(ev.Supporting, k)
		}
	}
	for _, k := range h.Contradict {
		if features[k] > contradictThreshold {
			score -= contradictPenalty
			ev.Contradicting = append(ev.Contradicting, k)
		}
	}
	ev.Score = math.Max(score, 0) * risk
	return ev, true
}

// combine merges feature sets into a new map. Later sets win on key
// collision.
func combine(sets ...FeatureSet) FeatureSet {
	out := FeatureSet{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
