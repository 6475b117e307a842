package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDelivers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventAliasCreated, Cluster: "prod", Alias: "db"})

	select {
	case ev := <-sub:
		require.NotNil(t, ev)
		assert.Equal(t, EventAliasCreated, ev.Type)
		assert.Equal(t, "prod", ev.Cluster)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker() // not started: queue fills up

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventAliasDeleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked")
	}

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventAliasDeleted})
}

func TestDiscard(t *testing.T) {
	var p Publisher = Discard{}
	p.Publish(&Event{Type: EventKeystoreCreated})
}
