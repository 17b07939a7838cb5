package cloud

import (
	"context"
	"sync"

	"spendlog/internal/amqp"
)

// LocalBroker fans out change notices inside one process. It stands in for
// the AMQP broker when a single server owns every session.
type LocalBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan *amqp.LedgerChangedMessage]struct{}
}

var _ Broker = (*LocalBroker)(nil)

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: map[string]map[chan *amqp.LedgerChangedMessage]struct{}{}}
}

// PublishLedgerChanged never blocks; a subscriber with a full buffer already
// has a pending notice that triggers the same re-read.
func (b *LocalBroker) PublishLedgerChanged(_ context.Context, userID string, version int64) error {
	msg := amqp.NewLedgerChangedMessage(userID, version)
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[userID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *LocalBroker) SubscribeLedgerChanges(ctx context.Context, userID string) (<-chan *amqp.LedgerChangedMessage, error) {
	ch := make(chan *amqp.LedgerChangedMessage, 8)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = map[chan *amqp.LedgerChangedMessage]struct{}{}
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[userID], ch)
		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Subscribers reports how many feeds are open for userID.
func (b *LocalBroker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}
