package detection

import (
	"strings"

	"github.com/shortontech/gotriage/internal/event"
)

var (
	sqlInjectionMarkers    = []string{"OR 1=1", "UNION SELECT"}
	unexpectedFieldMarkers = []string{"isAdmin", "role"}
)

// inspectPayload scores content signatures in each event's params and body.
// Matching is plain substring containment, so a legitimate field named
// "role" also fires. Once a score is raised no later event lowers it.
func inspectPayload(events []event.Event) FeatureSet {
	sqli, unexpected := 0.1, 0.1
	for _, ev := range events {
		text := ev.ScanText()
		if text == "" {
			continue
		}
		if containsAny(text, sqlInjectionMarkers) {
			sqli = 0.95
		}
		if containsAny(text, unexpectedFieldMarkers) {
			unexpected = 0.9
		}
	}

	return FeatureSet{
		SQLInjectionScore:    sqli,
		UnexpectedFieldScore: unexpected,
		// Reserved: no command injection signature is evaluated yet.
		CommandInjectionScore: 0.1,
	}
}

// InspectPayload is the payload stage.
func InspectPayload(a Analysis) Analysis {
	a.Payload = inspectPayload(a.Events)
	return a
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
