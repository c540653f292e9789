package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	isTransient := func(err error) bool { return errors.Is(err, errTransient) }

	tests := []struct {
		name         string
		results      []error
		wantAttempts int
		wantErr      error
	}{
		{"first try", []error{nil}, 1, nil},
		{"recovers", []error{errTransient, errTransient, nil}, 3, nil},
		{"exhausted", []error{errTransient, errTransient, errTransient, nil}, 3, errTransient},
		{"not retryable", []error{errFatal, nil}, 1, errFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			attempts, err := retry(context.Background(), 3, 0, isTransient, func() error {
				err := tt.results[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantAttempts, calls)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retry(ctx, 3, time.Second, always, func() error {
		calls++
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
