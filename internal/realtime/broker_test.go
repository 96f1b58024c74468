package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func msgChange(sessionID, id string) domain.Change {
	return domain.Change{
		Table:     domain.TableMessages,
		Event:     domain.ChangeInsert,
		SessionID: sessionID,
		Message:   &domain.Message{ID: id, SessionID: sessionID},
	}
}

func receive(t *testing.T, sub *Subscription) domain.Change {
	t.Helper()
	select {
	case change, ok := <-sub.C():
		require.True(t, ok, "channel closed")
		return change
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return domain.Change{}
}

func TestPublishRoutesByTableAndSession(t *testing.T) {
	b := NewBroker(8, nil)
	subA := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "a"})
	defer subA.Cancel()
	subB := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "b"})
	defer subB.Cancel()
	terms := b.Subscribe(Filter{Table: domain.TableSettlementTerms, SessionID: "a"})
	defer terms.Cancel()

	b.Publish(msgChange("a", "m1"))

	got := receive(t, subA)
	assert.Equal(t, "m1", got.Message.ID)
	assert.Empty(t, subB.C())
	assert.Empty(t, terms.C())
}

func TestPublishFiltersEvents(t *testing.T) {
	b := NewBroker(8, nil)
	inserts := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "a", Events: []domain.ChangeEvent{domain.ChangeInsert}})
	defer inserts.Cancel()

	update := msgChange("a", "m1")
	update.Event = domain.ChangeUpdate
	b.Publish(update)
	b.Publish(msgChange("a", "m2"))

	got := receive(t, inserts)
	assert.Equal(t, "m2", got.Message.ID)
	assert.Empty(t, inserts.C())
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewBroker(8, nil)
	sub := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "a"})
	b.Publish(msgChange("a", "m1"))

	sub.Cancel()
	sub.Cancel()
	b.Publish(msgChange("a", "m2"))

	_, ok := <-sub.C()
	assert.False(t, ok, "no change may be observed after Cancel")
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestOverflowDropsSubscriber(t *testing.T) {
	b := NewBroker(1, nil)
	sub := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "a"})

	b.Publish(msgChange("a", "m1"))
	b.Publish(msgChange("a", "m2"))

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), ErrOverflow)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	b := NewBroker(4, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := b.Subscribe(Filter{Table: domain.TableMessages, SessionID: "a"})
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range sub.C() {
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			sub.Cancel()
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(msgChange("a", "m"))
	}
	wg.Wait()
	assert.Equal(t, 0, b.SubscriberCount())
}
