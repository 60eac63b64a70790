package occupancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishKeepsBacklogForLateSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{GarageID: 7, Kind: KindBookingCreated, AvailableSpots: 2})
	hub.Publish(Event{GarageID: 8, Kind: KindBookingCreated, AvailableSpots: 9})

	sub, backlog, err := hub.Subscribe(7)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, 2, backlog[0].AvailableSpots)
	assert.False(t, backlog[0].OccurredAt.IsZero())

	hub.Publish(Event{GarageID: 7, Kind: KindSpotFreed, AvailableSpots: 3})
	got := <-sub.Events()
	assert.Equal(t, KindSpotFreed, got.Kind)
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish(Event{GarageID: 1, AvailableSpots: i})
	}
	sub, backlog, err := hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, backlog, DefaultBufferSize)
	assert.Equal(t, 10, backlog[0].AvailableSpots)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(3)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultSubscriberBuffer*3; i++ {
		hub.Publish(Event{GarageID: 3, AvailableSpots: i})
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe(4)
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	hub.Publish(Event{GarageID: 4})
	assert.Len(t, sub.Events(), 0)
}

func TestNilHubAndInvalidGarage(t *testing.T) {
	var hub *Hub
	hub.Publish(Event{GarageID: 1})
	_, _, err := hub.Subscribe(1)
	assert.ErrorIs(t, err, ErrHubUnavailable)

	_, _, err = NewHub().Subscribe(0)
	assert.ErrorIs(t, err, ErrInvalidGarage)
}
