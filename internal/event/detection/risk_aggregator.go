package detection

// Base category weights before priority boosting.
const (
	sequenceBaseWeight = 0.4
	payloadBaseWeight  = 0.4
	behaviorBaseWeight = 0.2
)

// riskFactorThreshold is the score a feature must exceed to be reported.
const riskFactorThreshold = 0.7

// AggregateRisk combines the three feature sets into the risk score and the
// list of risk factors. Each category is represented by its strongest signal.
// The score is not normalized: a boosted category can push it past what an
// unweighted run would produce.
func AggregateRisk(a Analysis) Analysis {
	a.RiskScore = sequenceBaseWeight*a.Weights.For(CategorySequence)*a.Sequence.Max() +
		payloadBaseWeight*a.Weights.For(CategoryPayload)*a.Payload.Max() +
		behaviorBaseWeight*a.Weights.For(CategoryBehavior)*a.Behavior.Max()

	factors := []string{}
	for _, group := range []struct {
		keys []string
		set  FeatureSet
	}{
		{SequenceKeys, a.Sequence},
		{PayloadKeys, a.Payload},
		{BehaviorKeys, a.Behavior},
	} {
		for _, k := range group.keys {
			if group.set[k] > riskFactorThreshold {
				factors = append(factors, k)
			}
		}
	}
	a.RiskFactors = factors
	return a
}
