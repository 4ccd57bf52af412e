package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type countingCanceller struct {
	calls atomic.Int32
	err   error
}

func (c *countingCanceller) CancelExpired(context.Context) ([]*models.Booking, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []*models.Booking{{ID: uuid.New(), Status: models.BookingStatusCancelled, CancelReason: models.CancelReasonExpired}}, nil
}

func TestExpirySweeperTicks(t *testing.T) {
	c := &countingCanceller{}
	s := NewExpirySweeper(c, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Greater(t, c.calls.Load(), int32(1))
}

func TestExpirySweeperSurvivesErrors(t *testing.T) {
	c := &countingCanceller{err: errors.New("db down")}
	s := NewExpirySweeper(c, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
	assert.Greater(t, c.calls.Load(), int32(1))
}
