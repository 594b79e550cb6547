package detection

import (
	"math"
	"strings"

	"github.com/shortontech/gotriage/internal/event"
)

const (
	loginEndpoint      = "/api/login"
	userObjectPrefix   = "/api/users/"
	ordersEndpoint     = "/api/orders"
	failedLoginStatus  = 401
	frequencyBatchSize = 10.0
)

// analyzeSequence scores access-pattern anomalies over the whole batch. Each
// flag fires if any single event matches; none of them count occurrences.
func analyzeSequence(events []event.Event) FeatureSet {
	var failedLogin, objectWalk, orders bool
	for _, ev := range events {
		if ev.Endpoint == loginEndpoint && ev.ResponseCode == failedLoginStatus {
			failedLogin = true
		}
		if strings.Contains(ev.Endpoint, userObjectPrefix) {
			objectWalk = true
		}
		if ev.Endpoint == ordersEndpoint {
			orders = true
		}
	}

	return FeatureSet{
		LoginVelocity:          pick(failedLogin, 0.9, 0.1),
		SequentialObjectAccess: pick(objectWalk, 0.85, 0.1),
		RequestFrequency:       math.Min(float64(len(events))/frequencyBatchSize, 1.0),
		RepeatedActionScore:    pick(orders, 0.8, 0.1),
	}
}

// AnalyzeSequence is the sequence stage.
func AnalyzeSequence(a Analysis) Analysis {
	a.Sequence = analyzeSequence(a.Events)
	return a
}

func pick(cond bool, hit, miss float64) float64 {
	if cond {
		return hit
	}
	return miss
}
