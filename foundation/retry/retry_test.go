package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astraldesk/securehttp/foundation/retry"
)

func TestFixed_Success(t *testing.T) {
	calls := 0
	err := retry.Fixed(context.Background(), 3, 0, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestFixed_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := retry.Fixed(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestFixed_EventualSuccess(t *testing.T) {
	calls := 0
	err := retry.Fixed(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("down")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestFixed_PermanentStopsEarly(t *testing.T) {
	calls := 0
	base := errors.New("no point retrying")
	err := retry.Fixed(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return retry.Permanent(base)
	})
	assert.ErrorIs(t, err, base)
	assert.Equal(t, 1, calls)
}

func TestFixed_CancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Fixed(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, retry.Permanent(nil))

	err := errors.New("x")
	p := retry.Permanent(err)
	assert.True(t, retry.IsPermanent(p))
	assert.False(t, retry.IsPermanent(err))
	assert.Equal(t, p, retry.Permanent(p))
}
