package tally

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/3rs4lg4d0/eventpipe/test"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
)

func TestInc(t *testing.T) {
	chann := make(chan int64, 1)
	counter := &Counter{Counter: &test.MockedTallyCounter{
		Output: chann,
	}}
	type args struct {
		delta int64
	}
	testcases := []struct {
		name         string
		args         args
		wantCtrValue int64
	}{
		{
			name: "increase 1",
			args: args{
				delta: 1,
			},
			wantCtrValue: 1,
		},
		{
			name: "increase 5",
			args: args{
				delta: 5,
			},
			wantCtrValue: 6,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			counter.Inc(tc.args.delta)
			internalValue := <-chann
			assert.Equal(t, tc.wantCtrValue, internalValue)
		})
	}
}

func TestCounters(t *testing.T) {
	scope := tally.NewTestScope("eventpipe", nil)
	success, failure := Counters(scope, "relay")
	success.Inc(2)
	failure.Inc(1)

	snapshot := scope.Snapshot().Counters()
	ok, found := snapshot["eventpipe.events_dispatched+stage=relay"]
	require.True(t, found)
	assert.Equal(t, int64(2), ok.Value())
	ko, found := snapshot["eventpipe.events_failed+stage=relay"]
	require.True(t, found)
	assert.Equal(t, int64(1), ko.Value())
}

func TestNewPrometheusScope(t *testing.T) {
	scope, handler, closer := NewPrometheusScope(prom.NewRegistry(), 10*time.Millisecond)
	defer func() { _ = closer() }()

	success, _ := Counters(scope, "processor")
	success.Inc(4)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return strings.Contains(rec.Body.String(), `eventpipe_events_dispatched{stage="processor"} 4`)
	}, 2*time.Second, 20*time.Millisecond)
}
