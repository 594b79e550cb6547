package detection

import (
	"strings"

	"github.com/shortontech/gotriage/internal/event"
)

// privilegedUserID stands in for a known privileged or test account.
const privilegedUserID = 456

// geoDeviationPlaceholder is reported until geolocation analysis exists.
const geoDeviationPlaceholder = 0.6

const scannerUserAgent = "sqlmap"

// profileBehavior scores account and client identity anomalies.
func profileBehavior(events []event.Event) FeatureSet {
	var privileged, scanner bool
	for _, ev := range events {
		if ev.HasUserID(privilegedUserID) {
			privileged = true
		}
		if strings.Contains(ev.UserAgent, scannerUserAgent) {
			scanner = true
		}
	}

	return FeatureSet{
		GeoDeviationScore:     geoDeviationPlaceholder,
		RoleDeviationScore:    pick(privileged, 0.75, 0.2),
		UserAgentAnomalyScore: pick(scanner, 0.8, 0.2),
	}
}

// ProfileBehavior is the behavior stage.
func ProfileBehavior(a Analysis) Analysis {
	a.Behavior = profileBehavior(a.Events)
	return a
}
