package detection

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"github.com/shortontech/gotriage/internal/event"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func userID(id int64) *int64 { return &id }

func loginFailure() event.Event {
	return event.Event{Endpoint: "/api/login", ResponseCode: 401, UserAgent: "Mozilla/5.0"}
}

func sqliProbe() event.Event {
	return event.Event{
		Endpoint:     "/api/search",
		ResponseCode: 200,
		Params:       event.TextPayload("q=1' OR 1=1 --"),
		UserAgent:    "sqlmap/1.7",
	}
}

func idorBatch() []event.Event {
	return []event.Event{
		{Endpoint: "/api/users/42", ResponseCode: 200, UserID: userID(456)},
		{Endpoint: "/api/orders", ResponseCode: 200, UserID: userID(456)},
	}
}

func TestRouteIntent(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		mode    Mode
		level   ExplanationLevel
		weights PriorityWeights
	}{
		{"empty", "", ModeFull, ExplanationStandard, PriorityWeights{Sequence: 1, Payload: 1, Behavior: 1}},
		{"sql", "show SQL activity", ModePayloadFocus, ExplanationStandard, PriorityWeights{Sequence: 1, Payload: 1.5, Behavior: 1}},
		{"credential", "credential reuse?", ModeSequenceFocus, ExplanationStandard, PriorityWeights{Sequence: 1.5, Payload: 1, Behavior: 1}},
		{"login", "Login spikes", ModeSequenceFocus, ExplanationStandard, PriorityWeights{Sequence: 1.5, Payload: 1, Behavior: 1}},
		{"behavior", "odd behavior", ModeBehaviorFocus, ExplanationStandard, PriorityWeights{Sequence: 1, Payload: 1, Behavior: 1.5}},
		{"sql wins over login", "sql login issue", ModePayloadFocus, ExplanationStandard, PriorityWeights{Sequence: 1, Payload: 1.5, Behavior: 1}},
		{"login wins over behavior", "login behavior", ModeSequenceFocus, ExplanationStandard, PriorityWeights{Sequence: 1.5, Payload: 1, Behavior: 1}},
		{"explain only", "Explain this", ModeFull, ExplanationDetailed, PriorityWeights{Sequence: 1, Payload: 1, Behavior: 1}},
		{"explain and sql", "explain the sql attack", ModePayloadFocus, ExplanationDetailed, PriorityWeights{Sequence: 1, Payload: 1.5, Behavior: 1}},
		{"no keyword", "what happened", ModeFull, ExplanationStandard, PriorityWeights{Sequence: 1, Payload: 1, Behavior: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RouteIntent(Analysis{Query: tt.query})
			if got.Mode != tt.mode {
				t.Errorf("Mode = %q, want %q", got.Mode, tt.mode)
			}
			if got.ExplanationLevel != tt.level {
				t.Errorf("ExplanationLevel = %q, want %q", got.ExplanationLevel, tt.level)
			}
			if got.Weights != tt.weights {
				t.Errorf("Weights = %+v, want %+v", got.Weights, tt.weights)
			}
		})
	}
}

func TestExtractors_EmptyBatch(t *testing.T) {
	wantSeq := FeatureSet{LoginVelocity: 0.1, SequentialObjectAccess: 0.1, RequestFrequency: 0.0, RepeatedActionScore: 0.1}
	wantPayload := FeatureSet{SQLInjectionScore: 0.1, UnexpectedFieldScore: 0.1, CommandInjectionScore: 0.1}
	wantBehavior := FeatureSet{GeoDeviationScore: 0.6, RoleDeviationScore: 0.2, UserAgentAnomalyScore: 0.2}

	if got := analyzeSequence(nil); !reflect.DeepEqual(got, wantSeq) {
		t.Errorf("analyzeSequence(nil) = %v, want %v", got, wantSeq)
	}
	if got := inspectPayload(nil); !reflect.DeepEqual(got, wantPayload) {
		t.Errorf("inspectPayload(nil) = %v, want %v", got, wantPayload)
	}
	if got := profileBehavior(nil); !reflect.DeepEqual(got, wantBehavior) {
		t.Errorf("profileBehavior(nil) = %v, want %v", got, wantBehavior)
	}
}

func TestAnalyzeSequence(t *testing.T) {
	t.Run("login velocity needs 401 on login endpoint", func(t *testing.T) {
		got := analyzeSequence([]event.Event{{Endpoint: "/api/login", ResponseCode: 200}})
		if got[LoginVelocity] != 0.1 {
			t.Errorf("login_velocity = %v, want 0.1", got[LoginVelocity])
		}
		got = analyzeSequence([]event.Event{loginFailure()})
		if got[LoginVelocity] != 0.9 {
			t.Errorf("login_velocity = %v, want 0.9", got[LoginVelocity])
		}
	})

	t.Run("object walk and repeated action", func(t *testing.T) {
		got := analyzeSequence(idorBatch())
		if got[SequentialObjectAccess] != 0.85 {
			t.Errorf("sequential_object_access = %v, want 0.85", got[SequentialObjectAccess])
		}
		if got[RepeatedActionScore] != 0.8 {
			t.Errorf("repeated_action_score = %v, want 0.8", got[RepeatedActionScore])
		}
		if !approx(got[RequestFrequency], 0.2) {
			t.Errorf("request_frequency = %v, want 0.2", got[RequestFrequency])
		}
	})

	t.Run("frequency caps at one", func(t *testing.T) {
		events := make([]event.Event, 25)
		got := analyzeSequence(events)
		if got[RequestFrequency] != 1.0 {
			t.Errorf("request_frequency = %v, want 1.0", got[RequestFrequency])
		}
	})
}

func TestInspectPayload(t *testing.T) {
	t.Run("sticky high in either order", func(t *testing.T) {
		clean := event.Event{Endpoint: "/api/search", Params: event.TextPayload("q=shoes")}
		for _, batch := range [][]event.Event{
			{sqliProbe(), clean},
			{clean, sqliProbe()},
		} {
			got := inspectPayload(batch)
			if got[SQLInjectionScore] != 0.95 {
				t.Errorf("sql_injection_score = %v, want 0.95", got[SQLInjectionScore])
			}
		}
	})

	t.Run("union select in body", func(t *testing.T) {
		body, err := event.JSONPayload(map[string]string{"filter": "1 UNION SELECT password FROM users"})
		if err != nil {
			t.Fatal(err)
		}
		got := inspectPayload([]event.Event{{Body: body}})
		if got[SQLInjectionScore] != 0.95 {
			t.Errorf("sql_injection_score = %v, want 0.95", got[SQLInjectionScore])
		}
	})

	t.Run("unexpected field in structured body", func(t *testing.T) {
		body, err := event.JSONPayload(map[string]bool{"isAdmin": true})
		if err != nil {
			t.Fatal(err)
		}
		got := inspectPayload([]event.Event{{Body: body}})
		if got[UnexpectedFieldScore] != 0.9 {
			t.Errorf("unexpected_field_score = %v, want 0.9", got[UnexpectedFieldScore])
		}
	})

	t.Run("escaped markers in structured payloads", func(t *testing.T) {
		batch := []event.Event{
			{Params: event.Payload(`{"q":"1 UNION\u0020SELECT pw"}`)},
			{Body: event.Payload(`{"\u0069sAdmin":true}`)},
		}
		got := inspectPayload(batch)
		if got[SQLInjectionScore] != 0.95 {
			t.Errorf("sql_injection_score = %v, want 0.95", got[SQLInjectionScore])
		}
		if got[UnexpectedFieldScore] != 0.9 {
			t.Errorf("unexpected_field_score = %v, want 0.9", got[UnexpectedFieldScore])
		}
	})

	t.Run("role substring is a known false positive", func(t *testing.T) {
		got := inspectPayload([]event.Event{{Params: event.TextPayload("parole=granted")}})
		if got[UnexpectedFieldScore] != 0.9 {
			t.Errorf("unexpected_field_score = %v, want 0.9", got[UnexpectedFieldScore])
		}
	})

	t.Run("matching is case sensitive", func(t *testing.T) {
		got := inspectPayload([]event.Event{{Params: event.TextPayload("q=1 or 1=1")}})
		if got[SQLInjectionScore] != 0.1 {
			t.Errorf("sql_injection_score = %v, want 0.1", got[SQLInjectionScore])
		}
	})
}

func TestProfileBehavior(t *testing.T) {
	got := profileBehavior([]event.Event{sqliProbe(), {UserID: userID(456)}})
	want := FeatureSet{GeoDeviationScore: 0.6, RoleDeviationScore: 0.75, UserAgentAnomalyScore: 0.8}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("profileBehavior = %v, want %v", got, want)
	}

	got = profileBehavior([]event.Event{{UserID: userID(455)}})
	if got[RoleDeviationScore] != 0.2 {
		t.Errorf("role_deviation_score = %v, want 0.2", got[RoleDeviationScore])
	}
}

func TestExtractors_Range(t *testing.T) {
	huge := make([]event.Event, 0, 200)
	for i := 0; i < 200; i++ {
		huge = append(huge, sqliProbe(), loginFailure())
		huge = append(huge, idorBatch()...)
	}
	for name, set := range map[string]FeatureSet{
		"sequence": analyzeSequence(huge),
		"payload":  inspectPayload(huge),
		"behavior": profileBehavior(huge),
	} {
		for k, v := range set {
			if v < 0 || v > 1 {
				t.Errorf("%s %s = %v, want within [0, 1]", name, k, v)
			}
		}
	}
}

func TestAggregateRisk(t *testing.T) {
	t.Run("default weights", func(t *testing.T) {
		a := AggregateRisk(Analysis{
			Weights:  DefaultPriorityWeights(),
			Sequence: FeatureSet{LoginVelocity: 0.9},
			Payload:  FeatureSet{SQLInjectionScore: 0.1},
			Behavior: FeatureSet{GeoDeviationScore: 0.1},
		})
		if !approx(a.RiskScore, 0.42) {
			t.Errorf("RiskScore = %v, want 0.42", a.RiskScore)
		}
		if !reflect.DeepEqual(a.RiskFactors, []string{LoginVelocity}) {
			t.Errorf("RiskFactors = %v, want [login_velocity]", a.RiskFactors)
		}
	})

	t.Run("boost is not normalized", func(t *testing.T) {
		a := AggregateRisk(Analysis{
			Weights:  PriorityWeights{Sequence: 1.5, Payload: 1, Behavior: 1},
			Sequence: FeatureSet{LoginVelocity: 1},
			Payload:  FeatureSet{SQLInjectionScore: 1},
			Behavior: FeatureSet{GeoDeviationScore: 1},
		})
		if !approx(a.RiskScore, 1.2) {
			t.Errorf("RiskScore = %v, want 1.2", a.RiskScore)
		}
	})

	t.Run("threshold is strict and order follows declared keys", func(t *testing.T) {
		a := AggregateRisk(Analysis{
			Weights:  DefaultPriorityWeights(),
			Sequence: FeatureSet{LoginVelocity: 0.7, RepeatedActionScore: 0.8, SequentialObjectAccess: 0.85},
			Payload:  FeatureSet{SQLInjectionScore: 0.95},
			Behavior: FeatureSet{UserAgentAnomalyScore: 0.8},
		})
		want := []string{SequentialObjectAccess, RepeatedActionScore, SQLInjectionScore, UserAgentAnomalyScore}
		if !reflect.DeepEqual(a.RiskFactors, want) {
			t.Errorf("RiskFactors = %v, want %v", a.RiskFactors, want)
		}
	})
}

func TestClassifyHypotheses(t *testing.T) {
	low := func() Analysis {
		return Analysis{
			RiskScore: 1.0,
			Sequence:  FeatureSet{LoginVelocity: 0.1, SequentialObjectAccess: 0.1, RequestFrequency: 0.1, RepeatedActionScore: 0.1},
			Payload:   FeatureSet{SQLInjectionScore: 0.1, UnexpectedFieldScore: 0.1, CommandInjectionScore: 0.1},
			Behavior:  FeatureSet{GeoDeviationScore: 0.2, RoleDeviationScore: 0.2, UserAgentAnomalyScore: 0.2},
		}
	}
	withSequence := func(access, repeated float64) Analysis {
		a := low()
		a.Sequence = FeatureSet{LoginVelocity: 0.1, SequentialObjectAccess: access, RequestFrequency: 0.1, RepeatedActionScore: repeated}
		return a
	}

	t.Run("no candidate", func(t *testing.T) {
		got := ClassifyHypotheses(low())
		if got.AlertType != AlertNone {
			t.Errorf("AlertType = %q, want none", got.AlertType)
		}
		if got.AlertConfidence != 0 {
			t.Errorf("AlertConfidence = %v, want 0", got.AlertConfidence)
		}
		if len(got.Summary.SupportingEvidence) != 0 || len(got.Summary.ContradictingEvidence) != 0 {
			t.Errorf("Summary evidence = %+v, want empty", got.Summary)
		}
		if len(got.Candidates) != 0 {
			t.Errorf("Candidates = %v, want none", got.Candidates)
		}
	})

	t.Run("primary at threshold is skipped", func(t *testing.T) {
		got := ClassifyHypotheses(withSequence(0.5, 0.1))
		if got.AlertType != AlertNone {
			t.Errorf("AlertType = %q, want none", got.AlertType)
		}
	})

	t.Run("gap of exactly 0.1 is multi vector", func(t *testing.T) {
		got := ClassifyHypotheses(withSequence(0.9, 0.8))
		if got.AlertType != AlertMultiVectorAttack {
			t.Errorf("AlertType = %q, want %q", got.AlertType, AlertMultiVectorAttack)
		}
		if !approx(got.AlertConfidence, 0.9) {
			t.Errorf("AlertConfidence = %v, want 0.9", got.AlertConfidence)
		}
		if got.Summary.SelectedLabel != AlertMultiVectorAttack {
			t.Errorf("SelectedLabel = %q, want %q", got.Summary.SelectedLabel, AlertMultiVectorAttack)
		}
	})

	t.Run("gap of 0.11 selects the leader", func(t *testing.T) {
		got := ClassifyHypotheses(withSequence(0.91, 0.8))
		if got.AlertType != AlertPossibleIDOR {
			t.Errorf("AlertType = %q, want %q", got.AlertType, AlertPossibleIDOR)
		}
	})

	t.Run("single candidate never multi vector", func(t *testing.T) {
		got := ClassifyHypotheses(withSequence(0.6, 0.1))
		if got.AlertType != AlertPossibleIDOR {
			t.Errorf("AlertType = %q, want %q", got.AlertType, AlertPossibleIDOR)
		}
	})

	t.Run("contradictions subtract", func(t *testing.T) {
		a := low()
		a.RiskScore = 0.5
		a.Sequence = FeatureSet{LoginVelocity: 0.9, SequentialObjectAccess: 0.9, RequestFrequency: 0.1, RepeatedActionScore: 0.1}
		a.Payload = FeatureSet{SQLInjectionScore: 0.95}
		got := ClassifyHypotheses(a)

		var sqli Evidence
		for _, c := range got.Candidates {
			if c.Label == AlertSQLInjection {
				sqli = c
			}
		}
		wantContra := []string{LoginVelocity, SequentialObjectAccess}
		if !reflect.DeepEqual(sqli.Contradicting, wantContra) {
			t.Errorf("Contradicting = %v, want %v", sqli.Contradicting, wantContra)
		}
		if !approx(sqli.Score, (0.95-0.3)*0.5) {
			t.Errorf("Score = %v, want %v", sqli.Score, (0.95-0.3)*0.5)
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := withSequence(0.9, 0.8)
		before := FeatureSet{}
		for k, v := range in.Sequence {
			before[k] = v
		}
		ClassifyHypotheses(in)
		if !reflect.DeepEqual(in.Sequence, before) {
			t.Errorf("Sequence modified: %v, want %v", in.Sequence, before)
		}
	})
}

func TestPipeline_Analyze(t *testing.T) {
	for _, concurrent := range []bool{true, false} {
		p := NewPipeline(WithConcurrentExtraction(concurrent))

		t.Run("empty batch", func(t *testing.T) {
			res := p.Analyze(nil, "")
			if !approx(res.RiskScore, 0.2) {
				t.Errorf("RiskScore = %v, want 0.2", res.RiskScore)
			}
			if len(res.RiskFactors) != 0 {
				t.Errorf("RiskFactors = %v, want empty", res.RiskFactors)
			}
			if res.AlertType != AlertNone {
				t.Errorf("AlertType = %q, want none", res.AlertType)
			}
			if res.Mode != ModeFull {
				t.Errorf("Mode = %q, want %q", res.Mode, ModeFull)
			}
		})

		t.Run("credential stuffing", func(t *testing.T) {
			res := p.Analyze([]event.Event{loginFailure()}, "")
			if !approx(res.RiskScore, 0.52) {
				t.Errorf("RiskScore = %v, want 0.52", res.RiskScore)
			}
			if res.AlertType != AlertCredentialStuffing {
				t.Errorf("AlertType = %q, want %q", res.AlertType, AlertCredentialStuffing)
			}
			if !approx(res.AlertConfidence, 0.52) {
				t.Errorf("AlertConfidence = %v, want 0.52", res.AlertConfidence)
			}
			if !reflect.DeepEqual(res.AnalysisSummary.SupportingEvidence, []string{GeoDeviationScore}) {
				t.Errorf("SupportingEvidence = %v, want [geo_deviation_score]", res.AnalysisSummary.SupportingEvidence)
			}
		})

		t.Run("sql injection", func(t *testing.T) {
			res := p.Analyze([]event.Event{sqliProbe()}, "")
			if !approx(res.RiskScore, 0.58) {
				t.Errorf("RiskScore = %v, want 0.58", res.RiskScore)
			}
			wantFactors := []string{SQLInjectionScore, UserAgentAnomalyScore}
			if !reflect.DeepEqual(res.RiskFactors, wantFactors) {
				t.Errorf("RiskFactors = %v, want %v", res.RiskFactors, wantFactors)
			}
			if res.AlertType != AlertSQLInjection {
				t.Errorf("AlertType = %q, want %q", res.AlertType, AlertSQLInjection)
			}
			if !approx(res.AlertConfidence, 1.05*0.58) {
				t.Errorf("AlertConfidence = %v, want %v", res.AlertConfidence, 1.05*0.58)
			}
			if res.Features != nil || res.Candidates != nil {
				t.Error("standard explanation should not carry features or candidates")
			}
		})

		t.Run("explained sql query", func(t *testing.T) {
			res := p.Analyze([]event.Event{sqliProbe()}, "Explain the SQL attack")
			if res.Mode != ModePayloadFocus {
				t.Errorf("Mode = %q, want %q", res.Mode, ModePayloadFocus)
			}
			if res.ExplanationLevel != ExplanationDetailed {
				t.Errorf("ExplanationLevel = %q, want %q", res.ExplanationLevel, ExplanationDetailed)
			}
			if !approx(res.RiskScore, 0.77) {
				t.Errorf("RiskScore = %v, want 0.77", res.RiskScore)
			}
			if res.Features == nil || res.Features.Payload[SQLInjectionScore] != 0.95 {
				t.Errorf("Features = %+v, want payload features", res.Features)
			}
			if len(res.Candidates) != 1 {
				t.Errorf("Candidates = %v, want 1", res.Candidates)
			}
		})

		t.Run("multi vector", func(t *testing.T) {
			res := p.Analyze(idorBatch(), "")
			if !approx(res.RiskScore, 0.53) {
				t.Errorf("RiskScore = %v, want 0.53", res.RiskScore)
			}
			if res.AlertType != AlertMultiVectorAttack {
				t.Errorf("AlertType = %q, want %q", res.AlertType, AlertMultiVectorAttack)
			}
			if !approx(res.AlertConfidence, 0.95*0.53) {
				t.Errorf("AlertConfidence = %v, want %v", res.AlertConfidence, 0.95*0.53)
			}
			wantFactors := []string{SequentialObjectAccess, RepeatedActionScore, RoleDeviationScore}
			if !reflect.DeepEqual(res.RiskFactors, wantFactors) {
				t.Errorf("RiskFactors = %v, want %v", res.RiskFactors, wantFactors)
			}
			if !reflect.DeepEqual(res.AnalysisSummary.SupportingEvidence, []string{RoleDeviationScore}) {
				t.Errorf("SupportingEvidence = %v, want [role_deviation_score]", res.AnalysisSummary.SupportingEvidence)
			}
		})
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	p := NewPipeline()
	batch := append([]event.Event{sqliProbe(), loginFailure()}, idorBatch()...)

	first, err := json.Marshal(p.Analyze(batch, "explain login"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(p.Analyze(batch, "explain login"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("results differ:\n%s\n%s", first, second)
	}
}

func TestAnalysisResult_JSON(t *testing.T) {
	raw, err := json.Marshal(NewPipeline().Analyze(nil, ""))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if v, ok := got["alert_type"]; !ok || v != nil {
		t.Errorf("alert_type = %v, want null", v)
	}
	if factors, ok := got["risk_factors"].([]any); !ok || len(factors) != 0 {
		t.Errorf("risk_factors = %v, want []", got["risk_factors"])
	}
	summary, _ := got["analysis_summary"].(map[string]any)
	if ev, ok := summary["supporting_evidence"].([]any); !ok || len(ev) != 0 {
		t.Errorf("supporting_evidence = %v, want []", summary["supporting_evidence"])
	}
	weights, _ := got["priority_weights"].(map[string]any)
	for _, k := range []string{"sequence", "payload", "behavior"} {
		if weights[k] != 1.0 {
			t.Errorf("priority_weights[%s] = %v, want 1", k, weights[k])
		}
	}
	if _, ok := got["features"]; ok {
		t.Error("features present on standard explanation")
	}
}

func TestAlertType_UnmarshalJSON(t *testing.T) {
	var res AnalysisResult
	if err := json.Unmarshal([]byte(`{"alert_type":"SQL_INJECTION"}`), &res); err != nil {
		t.Fatal(err)
	}
	if res.AlertType != AlertSQLInjection {
		t.Errorf("AlertType = %q, want %q", res.AlertType, AlertSQLInjection)
	}
	if err := json.Unmarshal([]byte(`{"alert_type":null}`), &res); err != nil {
		t.Fatal(err)
	}
	if res.AlertType != AlertNone {
		t.Errorf("AlertType = %q, want none", res.AlertType)
	}
}
