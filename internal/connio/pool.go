// Package connio provides the bounded worker pools and per-connection
// send queue that keep the broker's I/O resource usage predictable:
// a fixed number of goroutines drain sends and dispatch receives
// rather than letting every connection spawn its own unbounded work.
package connio

import "github.com/panjf2000/ants/v2"

// Pools holds the broker's two fixed-size goroutine pools: one for
// draining outgoing SendQueues, one for dispatching decoded inbound
// packets to the broker writer. Both are sized at startup from the
// configured worker counts (§5 ConnectionIO) rather than left
// unbounded per connection.
type Pools struct {
	Senders   *ants.Pool
	Receivers *ants.Pool
}

// NewPools builds a Pools with senderWorkers and receiverWorkers fixed
// goroutines respectively. A size of 0 or less is passed through to
// ants, which then builds a pool with no worker limit.
func NewPools(senderWorkers, receiverWorkers int) (*Pools, error) {
	senders, err := ants.NewPool(senderWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	receivers, err := ants.NewPool(receiverWorkers, ants.WithNonblocking(false))
	if err != nil {
		senders.Release()
		return nil, err
	}
	return &Pools{Senders: senders, Receivers: receivers}, nil
}

// Release tears down both pools, blocking until their in-flight tasks
// finish.
func (p *Pools) Release() {
	p.Senders.Release()
	p.Receivers.Release()
}
