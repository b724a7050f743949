package queue

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlein/amenity-booking/internal/model"
)

type fakeChannel struct {
	closed    bool
	failWith  error
	published []string
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, _ amqp.Publishing) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.published = append(f.published, key)
	return nil
}

func (f *fakeChannel) IsClosed() bool { return f.closed }
func (f *fakeChannel) Close() error   { f.closed = true; return nil }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newFakePublisher hands out the given channels, one per connect.
func newFakePublisher(chs ...*fakeChannel) (*Publisher, *int) {
	dials := 0
	p := &Publisher{exchange: "bookings", connect: func() (io.Closer, channel, error) {
		if dials >= len(chs) {
			return nil, nil, errors.New("broker unreachable")
		}
		ch := chs[dials]
		dials++
		return nopCloser{}, ch, nil
	}}
	return p, &dials
}

func event() BookingEvent {
	return NewBookingEvent(EventBookingConfirmed, &model.BookingRecord{ID: "b-1", Status: model.BookingStatusConfirmed}, "u-1", time.Now())
}

func TestPublisherReopensClosedChannel(t *testing.T) {
	stale := &fakeChannel{failWith: amqp.ErrClosed}
	fresh := &fakeChannel{}
	p, dials := newFakePublisher(stale, fresh)
	require.NoError(t, p.reconnect())

	require.NoError(t, p.PublishBookingEvent(context.Background(), event()))

	assert.Equal(t, 2, *dials)
	assert.True(t, stale.closed)
	assert.Equal(t, []string{EventBookingConfirmed}, fresh.published)
}

func TestPublisherReconnectsAfterChannelClosedByBroker(t *testing.T) {
	first := &fakeChannel{}
	second := &fakeChannel{}
	p, dials := newFakePublisher(first, second)
	require.NoError(t, p.reconnect())

	first.closed = true
	require.NoError(t, p.PublishBookingEvent(context.Background(), event()))

	assert.Equal(t, 2, *dials)
	assert.Empty(t, first.published)
	assert.Len(t, second.published, 1)
}

func TestPublisherReportsUnreachableBroker(t *testing.T) {
	p, _ := newFakePublisher(&fakeChannel{failWith: amqp.ErrClosed})
	require.NoError(t, p.reconnect())

	err := p.PublishBookingEvent(context.Background(), event())

	assert.ErrorContains(t, err, "broker unreachable")
	assert.NoError(t, p.Close())
}

func TestPublisherPassesOtherErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	p, dials := newFakePublisher(&fakeChannel{failWith: boom})
	require.NoError(t, p.reconnect())

	assert.ErrorIs(t, p.PublishBookingEvent(context.Background(), event()), boom)
	assert.Equal(t, 1, *dials)
}
