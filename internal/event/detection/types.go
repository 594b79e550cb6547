package detection

import (
	"encoding/json"

	"github.com/shortontech/gotriage/internal/event"
)

// Mode is the analysis focus chosen by the intent router.
type Mode string

const (
	ModeFull          Mode = "full"
	ModePayloadFocus  Mode = "payload_focus"
	ModeSequenceFocus Mode = "sequence_focus"
	ModeBehaviorFocus Mode = "behavior_focus"
)

// ExplanationLevel controls how much of the analysis record a result exposes.
type ExplanationLevel string

const (
	ExplanationStandard ExplanationLevel = "standard"
	ExplanationDetailed ExplanationLevel = "detailed"
)

// Category names one of the three feature extractors.
type Category string

const (
	CategorySequence Category = "sequence"
	CategoryPayload  Category = "payload"
	CategoryBehavior Category = "behavior"
)

// Feature keys, in the order each extractor declares them.
const (
	LoginVelocity          = "login_velocity"
	SequentialObjectAccess = "sequential_object_access"
	RequestFrequency       = "request_frequency"
	RepeatedActionScore    = "repeated_action_score"

	SQLInjectionScore     = "sql_injection_score"
	UnexpectedFieldScore  = "unexpected_field_score"
	CommandInjectionScore = "command_injection_score"

	GeoDeviationScore     = "geo_deviation_score"
	RoleDeviationScore    = "role_deviation_score"
	UserAgentAnomalyScore = "user_agent_anomaly_score"
)

var (
	SequenceKeys = []string{LoginVelocity, SequentialObjectAccess, RequestFrequency, RepeatedActionScore}
	PayloadKeys  = []string{SQLInjectionScore, UnexpectedFieldScore, CommandInjectionScore}
	BehaviorKeys = []string{GeoDeviationScore, RoleDeviationScore, UserAgentAnomalyScore}
)

// FeatureSet maps feature names to scores in [0, 1]. A set is never modified
// once the stage that built it has returned.
type FeatureSet map[string]float64

// Max returns the highest score in the set, or 0 for an empty set.
func (f FeatureSet) Max() float64 {
	best := 0.0
	for _, v := range f {
		if v > best {
			best = v
		}
	}
	return best
}

// PriorityWeights multiply the base category weights in the risk aggregator.
type PriorityWeights struct {
	Sequence float64 `json:"sequence"`
	Payload  float64 `json:"payload"`
	Behavior float64 `json:"behavior"`
}

// DefaultPriorityWeights leaves every category at 1.0.
func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{Sequence: 1.0, Payload: 1.0, Behavior: 1.0}
}

// For returns the weight of the given category.
func (w PriorityWeights) For(c Category) float64 {
	switch c {
	case CategorySequence:
		return w.Sequence
	case CategoryPayload:
		return w.Payload
	case CategoryBehavior:
		return w.Behavior
	}
	return 1.0
}

// With returns a copy of w with category c set to v.
func (w PriorityWeights) With(c Category, v float64) PriorityWeights {
	switch c {
	case CategorySequence:
		w.Sequence = v
	case CategoryPayload:
		w.Payload = v
	case CategoryBehavior:
		w.Behavior = v
	}
	return w
}

// AlertType is a hypothesis label. The empty value means no alert and
// encodes as JSON null.
type AlertType string

const (
	AlertNone               AlertType = ""
	AlertSQLInjection       AlertType = "SQL_INJECTION"
	AlertCredentialStuffing AlertType = "CREDENTIAL_STUFFING"
	AlertPossibleIDOR       AlertType = "POSSIBLE_IDOR"
	AlertBusinessLogicAbuse AlertType = "BUSINESS_LOGIC_ABUSE"
	AlertMultiVectorAttack  AlertType = "MULTI_VECTOR_ATTACK"
)

func (t AlertType) MarshalJSON() ([]byte, error) {
	if t == AlertNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

func (t *AlertType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = AlertNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = AlertType(s)
	return nil
}

// Hypothesis is one row of the attack catalogue.
type Hypothesis struct {
	Label      AlertType
	Primary    string
	Support    []string
	Contradict []string
}

// Evidence is the outcome of evaluating one hypothesis.
type Evidence struct {
	Label         AlertType `json:"label"`
	Supporting    []string  `json:"supporting_evidence"`
	Contradicting []string  `json:"contradicting_evidence"`
	Score         float64   `json:"score"`
}

// Summary reports the selected hypothesis.
type Summary struct {
	SelectedLabel         AlertType `json:"selected_label"`
	Confidence            float64   `json:"confidence"`
	SupportingEvidence    []string  `json:"supporting_evidence"`
	ContradictingEvidence []string  `json:"contradicting_evidence"`
}

// Features groups the three extractor outputs.
type Features struct {
	Sequence FeatureSet `json:"sequence_features"`
	Payload  FeatureSet `json:"payload_features"`
	Behavior FeatureSet `json:"behavior_features"`
}

// AnalysisResult is the terminal output of the pipeline.
type AnalysisResult struct {
	RiskScore        float64          `json:"risk_score"`
	RiskFactors      []string         `json:"risk_factors"`
	AlertType        AlertType        `json:"alert_type"`
	AlertConfidence  float64          `json:"alert_confidence"`
	AnalysisSummary  Summary          `json:"analysis_summary"`
	Mode             Mode             `json:"mode"`
	ExplanationLevel ExplanationLevel `json:"explanation_level"`
	PriorityWeights  PriorityWeights  `json:"priority_weights"`

	// Only set for detailed explanations.
	Features   *Features  `json:"features,omitempty"`
	Candidates []Evidence `json:"candidates,omitempty"`
}

// Analysis is the record threaded through the stages. Each stage receives it
// by value and returns a copy with its own fields filled in.
type Analysis struct {
	Query  string
	Events []event.Event

	// intent router
	Mode             Mode
	ExplanationLevel ExplanationLevel
	Weights          PriorityWeights

	// extractors
	Sequence FeatureSet
	Payload  FeatureSet
	Behavior FeatureSet

	// aggregator
	RiskScore   float64
	RiskFactors []string

	// classifier
	Candidates      []Evidence
	AlertType       AlertType
	AlertConfidence float64
	Summary         Summary
}

// Result projects the record onto the output shape.
func (a Analysis) Result() AnalysisResult {
	res := AnalysisResult{
		RiskScore:        a.RiskScore,
		RiskFactors:      nonNil(a.RiskFactors),
		AlertType:        a.AlertType,
		AlertConfidence:  a.AlertConfidence,
		AnalysisSummary:  a.Summary,
		Mode:             a.Mode,
		ExplanationLevel: a.ExplanationLevel,
		PriorityWeights:  a.Weights,
	}
	res.AnalysisSummary.SupportingEvidence = nonNil(res.AnalysisSummary.SupportingEvidence)
	res.AnalysisSummary.ContradictingEvidence = nonNil(res.AnalysisSummary.ContradictingEvidence)
	if a.ExplanationLevel == ExplanationDetailed {
		res.Features = &Features{Sequence: a.Sequence, Payload: a.Payload, Behavior: a.Behavior}
		res.Candidates = a.Candidates
	}
	return res
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
