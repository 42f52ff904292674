package metrics

import "time"

// NoopRecorder discards all observations. Default when metrics are not
// enabled.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
