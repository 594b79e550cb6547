package detection

import "strings"

// focusBoost is the multiplier applied to the category a query asks about.
const focusBoost = 1.5

// intentRule maps query keywords to a focus mode. Rules are evaluated in
// order and the first match wins.
type intentRule struct {
	Keywords []string
	Mode     Mode
	Category Category
}

var intentRules = []intentRule{
	{Keywords: []string{"sql"}, Mode: ModePayloadFocus, Category: CategoryPayload},
	{Keywords: []string{"credential", "login"}, Mode: ModeSequenceFocus, Category: CategorySequence},
	{Keywords: []string{"behavior"}, Mode: ModeBehaviorFocus, Category: CategoryBehavior},
}

// RouteIntent sets the mode, explanation level and priority weights from the
// record's query. An empty query yields mode full and default weights.
func RouteIntent(a Analysis) Analysis {
	q := strings.ToLower(a.Query)

	a.ExplanationLevel = ExplanationStandard
	if strings.Contains(q, "explain") {
		a.ExplanationLevel = ExplanationDetailed
	}

	a.Mode = ModeFull
	a.Weights = DefaultPriorityWeights()
	if q == "" {
		return a
	}
	if rule, ok := matchIntent(q); ok {
		a.Mode = rule.Mode
		a.Weights = a.Weights.With(rule.Category, focusBoost)
	}
	return a
}

// matchIntent returns the first rule with a keyword contained in the
// lower-cased query.
func matchIntent(q string) (intentRule, bool) {
	for _, rule := range intentRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(q, kw) {
				return rule, true
			}
		}
	}
	return intentRule{}, false
}
