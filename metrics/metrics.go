// Package metrics defines the recorder interface the payment client reports
// negotiation outcomes and latencies through.
package metrics

import "time"

// Event names recorded by the client.
const (
	EventChallenged         = "challenged"
	EventSettled            = "settled"
	EventFailed             = "failed"
	EventSettlementRejected = "settlement_rejected"
)

// Recorder receives counters and latency observations.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
