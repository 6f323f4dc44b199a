package reconciler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/coinwatch/coinwatch/ledger"
	"github.com/lightningnetwork/lnd/queue"
)

// ErrServerShuttingDown is returned when subscribing to or publishing on an
// event server that is stopping.
var ErrServerShuttingDown = errors.New("event server shutting down")

// subscriberQueueSize is the initial buffer of every subscriber queue. The
// queue grows beyond it so a slow subscriber never blocks the reconciler.
const subscriberQueueSize = 20

// CoinStateUpdated is published whenever a tracked coin changes status.
type CoinStateUpdated struct {
	Address string
	CoinID  chainhash.Hash
	Status  ledger.CoinStatus

	// Height is the chain height the new status was observed at.
	Height uint32
}

// String returns a human readable form of the update.
func (u CoinStateUpdated) String() string {
	return fmt.Sprintf("%s coin %v -> %v at height %d", u.Address,
		u.CoinID, u.Status, u.Height)
}

// Subscription delivers CoinStateUpdated events in publication order.
type Subscription struct {
	// cancel should be called in case the subscriber no longer wants
	// updates from the server.
	cancel func()

	updates *queue.ConcurrentQueue
	quit    chan struct{}
}

// Updates returns the channel events are delivered on. Every value is a
// CoinStateUpdated.
func (s *Subscription) Updates() <-chan interface{} {
	return s.updates.ChanOut()
}

// Quit is closed when the server stops delivering to this subscription.
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel ends the subscription.
func (s *Subscription) Cancel() {
	s.cancel()
}

// subscriptionUpdate registers or cancels a subscription.
type subscriptionUpdate struct {
	cancel bool
	id     uint64
	sub    *Subscription
}

// eventServer fans out published events to every live subscription.
type eventServer struct {
	nextID uint64 // To be used atomically.

	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	subs       map[uint64]*Subscription
	subUpdates chan *subscriptionUpdate
	events     chan CoinStateUpdated

	quit chan struct{}
	wg   sync.WaitGroup
}

func newEventServer() *eventServer {
	return &eventServer{
		subs:       make(map[uint64]*Subscription),
		subUpdates: make(chan *subscriptionUpdate),
		events:     make(chan CoinStateUpdated),
		quit:       make(chan struct{}),
	}
}

// Start launches the dispatch goroutine.
func (s *eventServer) Start() {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return
	}

	s.wg.Add(1)
	go s.dispatch()
}

// Stop stops the dispatch goroutine and closes every subscription.
func (s *eventServer) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}

	close(s.quit)
	s.wg.Wait()
}

// Subscribe registers a new subscription.
func (s *eventServer) Subscribe() (*Subscription, error) {
	id := atomic.AddUint64(&s.nextID, 1)

	sub := &Subscription{
		updates: queue.NewConcurrentQueue(subscriberQueueSize),
		quit:    make(chan struct{}),
		cancel: func() {
			select {
			case s.subUpdates <- &subscriptionUpdate{
				cancel: true,
				id:     id,
			}:
			case <-s.quit:
			}
		},
	}

	select {
	case s.subUpdates <- &subscriptionUpdate{id: id, sub: sub}:
	case <-s.quit:
		return nil, ErrServerShuttingDown
	}

	return sub, nil
}

// Publish hands ev to every live subscription.
func (s *eventServer) Publish(ev CoinStateUpdated) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.quit:
		return ErrServerShuttingDown
	}
}

// dispatch owns the subscription set.
//
// NOTE: MUST be run as a goroutine.
func (s *eventServer) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.subUpdates:
			if update.cancel {
				sub, ok := s.subs[update.id]
				if ok {
					sub.updates.Stop()
					close(sub.quit)
					delete(s.subs, update.id)
				}

				continue
			}

			update.sub.updates.Start()
			s.subs[update.id] = update.sub

		case ev := <-s.events:
			for _, sub := range s.subs {
				select {
				case sub.updates.ChanIn() <- ev:
				case <-sub.quit:
				case <-s.quit:
					s.closeAll()
					return
				}
			}

		case <-s.quit:
			s.closeAll()
			return
		}
	}
}

// closeAll stops the queue of every subscription and signals its quit.
func (s *eventServer) closeAll() {
	for id, sub := range s.subs {
		sub.updates.Stop()
		close(sub.quit)
		delete(s.subs, id)
	}
}
