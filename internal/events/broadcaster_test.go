package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/pnlledger/internal/domain"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	first := b.Subscribe()
	second := b.Subscribe()
	require.Equal(t, 2, b.Subscribers())

	event := domain.LedgerEvent{Type: domain.LedgerEventTradeLogged, Payload: domain.TradeLogged{Index: 3}}
	b.Publish(event)

	assert.Equal(t, event, <-first)
	assert.Equal(t, event, <-second)
}

func TestBroadcaster_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe()

	b.Publish(domain.LedgerEvent{Type: domain.LedgerEventTradeLogged})
	b.Publish(domain.LedgerEvent{Type: domain.LedgerEventPnLCalculated})

	assert.Equal(t, domain.LedgerEventTradeLogged, (<-ch).Type)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(0)
	ch := b.Subscribe()

	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())

	b.Publish(domain.LedgerEvent{Type: domain.LedgerEventTradeLogged})
}
