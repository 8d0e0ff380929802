package tally

import (
	"net/http"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	prom "github.com/prometheus/client_golang/prometheus"
	tally "github.com/uber-go/tally/v4"
	promreporter "github.com/uber-go/tally/v4/prometheus"
)

type Counter struct {
	Counter tally.Counter
}

var _ evp.Counter = (*Counter)(nil)

func (c *Counter) Inc(delta int64) {
	c.Counter.Inc(delta)
}

// Counters builds the success and error counters of a pipeline stage
// (e.g. "relay" or "processor") under the given scope.
func Counters(scope tally.Scope, stage string) (success *Counter, failure *Counter) {
	sub := scope.Tagged(map[string]string{"stage": stage})
	return &Counter{Counter: sub.Counter("events_dispatched")}, &Counter{Counter: sub.Counter("events_failed")}
}

// NewPrometheusScope creates a root scope with the eventpipe prefix reported
// through the tally prometheus reporter every interval. The returned handler
// serves the metrics and the closer stops the reporting.
func NewPrometheusScope(reg *prom.Registry, interval time.Duration) (tally.Scope, http.Handler, func() error) {
	r := promreporter.NewReporter(promreporter.Options{
		Registerer: reg,
		Gatherer:   reg,
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:          "eventpipe",
		Separator:       promreporter.DefaultSeparator,
		SanitizeOptions: &promreporter.DefaultSanitizerOpts,
		CachedReporter:  r,
	}, interval)
	return scope, r.HTTPHandler(), closer.Close
}
