package circuitbreaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-p2ptrade/pkg/circuitbreaker"
)

var errFailing = errors.New("failing")

func TestCircuitBreaker(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		wantState gobreaker.State
	}{
		{
			name:      "below_min_requests",
			failures:  5,
			wantState: gobreaker.StateClosed,
		},
		{
			name:      "below_failing_ratio",
			failures:  5,
			successes: 6,
			wantState: gobreaker.StateClosed,
		},
		{
			name:      "trips",
			failures:  11,
			wantState: gobreaker.StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Opts{
				Name:        tt.name,
				MinRequests: 10,
				OpenTimeout: time.Minute,
			})
			for i := 0; i < tt.successes; i++ {
				_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
			}
			for i := 0; i < tt.failures; i++ {
				_, _ = cb.Execute(func() (interface{}, error) { return nil, errFailing })
			}
			require.Equal(t, tt.wantState, cb.State())

			if tt.wantState == gobreaker.StateOpen {
				_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
				require.ErrorIs(t, err, gobreaker.ErrOpenState)
			}
		})
	}
}
