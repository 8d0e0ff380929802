package evp

import (
	"testing"
	"time"

	"github.com/3rs4lg4d0/eventpipe/test"
	"github.com/stretchr/testify/assert"
)

var nopLogger *NopLogger = &NopLogger{}
var nopCounter *NopCounter = &NopCounter{}
var testLogger *test.TestLogger = &test.TestLogger{}
var testCounter *test.TestCounter = &test.TestCounter{}

func newTestPipeline() *Pipeline {
	return &Pipeline{
		logger:              nopLogger,
		now:                 time.Now,
		relaySuccessCtr:     nopCounter,
		relayErrorCtr:       nopCounter,
		processorSuccessCtr: nopCounter,
		processorErrorCtr:   nopCounter,
	}
}

func TestWithLogger(t *testing.T) {
	type args struct {
		l Logger
	}
	testcases := []struct {
		name       string
		args       args
		wantLogger Logger
	}{
		{
			name: "with nil logger",
			args: args{
				l: nil,
			},
			wantLogger: nopLogger,
		},
		{
			name: "with a logger instance",
			args: args{
				l: testLogger,
			},
			wantLogger: testLogger,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPipeline()
			opt := WithLogger(tc.args.l)
			opt(p)
			assert.Equal(t, tc.wantLogger, p.logger)
		})
	}
}

func TestWithCounters(t *testing.T) {
	type args struct {
		success Counter
		error   Counter
	}
	testcases := []struct {
		name           string
		args           args
		wantSuccessCtr Counter
		wantErrorCtr   Counter
	}{
		{
			name: "both counters to nil",
			args: args{
				success: nil,
				error:   nil,
			},
			wantSuccessCtr: nopCounter,
			wantErrorCtr:   nopCounter,
		},
		{
			name: "error counter to nil",
			args: args{
				success: testCounter,
				error:   nil,
			},
			wantSuccessCtr: testCounter,
			wantErrorCtr:   nopCounter,
		},
		{
			name: "success counter to nil",
			args: args{
				success: nil,
				error:   testCounter,
			},
			wantSuccessCtr: nopCounter,
			wantErrorCtr:   testCounter,
		},
		{
			name: "both counters to valid instances",
			args: args{
				success: testCounter,
				error:   testCounter,
			},
			wantSuccessCtr: testCounter,
			wantErrorCtr:   testCounter,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestPipeline()
			WithRelayCounters(tc.args.success, tc.args.error)(p)
			assert.Equal(t, tc.wantSuccessCtr, p.relaySuccessCtr)
			assert.Equal(t, tc.wantErrorCtr, p.relayErrorCtr)

			p = newTestPipeline()
			WithProcessorCounters(tc.args.success, tc.args.error)(p)
			assert.Equal(t, tc.wantSuccessCtr, p.processorSuccessCtr)
			assert.Equal(t, tc.wantErrorCtr, p.processorErrorCtr)
		})
	}
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := newTestPipeline()
	WithClock(nil)(p)
	assert.NotNil(t, p.now)
	WithClock(func() time.Time { return fixed })(p)
	assert.Equal(t, fixed, p.now())
}

func TestNewPanics(t *testing.T) {
	s := NewJSONSerializer()
	r := NewRegistry()
	assert.Panics(t, func() { New(Settings{}, nil, s, r) })
	assert.Panics(t, func() { NewWriter(nil, s) })
	assert.Panics(t, func() { NewBus(nil, s) })
	assert.Panics(t, func() { NewProcessor(NewQueue(1), nil, r) })
	assert.Panics(t, func() { NewRelay(Settings{}, nil, s, r) })
}
