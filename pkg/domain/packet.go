// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package domain

import (
	"fmt"

	"github.com/cockroachdb/viewflow/pkg/graph"
	"github.com/cockroachdb/viewflow/pkg/replay"
	"github.com/cockroachdb/viewflow/pkg/row"
	"github.com/cockroachdb/viewflow/pkg/state"
)

// Addr identifies a domain shard.
type Addr struct {
	Domain graph.DomainID
	Shard  int
}

// String implements fmt.Stringer.
func (a Addr) String() string {
	return fmt.Sprintf("d%d/%d", a.Domain, a.Shard)
}

// clientLink is the link of packets written by clients. Client packets
// carry no sequence numbers.
var clientLink = Addr{Domain: -1}

// Piece marks a packet as part of the answer to a replay request.
type Piece struct {
	replay.Request
	// Last is set on the final piece of the answer of one source shard.
	Last bool
}

// Packet is the unit of work on a domain's input channel: a batch of
// records entering the domain at one node, or a message riding the same
// ordered stream.
type Packet struct {
	// Link is the sending domain shard and Seq its per-link sequence
	// number.
	Link Addr
	Seq  uint64
	// To is the base or ingress node the packet enters at.
	To      graph.NodeID
	Lane    replay.Lane
	Records row.Records

	// Piece is set on replay pieces.
	Piece *Piece
	// Evict lists keys evicted upstream. They are evicted from the
	// partial state below To.
	Evict []row.Key
	// Sync is set on barriers. The domain sends its pending work on it
	// once every earlier packet is processed.
	Sync chan<- SyncResult
}

func (p *Packet) String() string {
	switch {
	case p.Sync != nil:
		return "sync"
	case p.Evict != nil:
		return fmt.Sprintf("evict n%d %v", p.To, p.Evict)
	case p.Piece != nil:
		return fmt.Sprintf("piece n%d tag=%d key=%s epoch=%d last=%t %s",
			p.To, p.Piece.Tag, p.Piece.Key, p.Piece.Epoch, p.Piece.Last, p.Records)
	}
	return fmt.Sprintf("n%d %s", p.To, p.Records)
}

// SyncResult is the answer to a barrier.
type SyncResult struct {
	// Pending counts the fills, suspensions, pending answers and control
	// messages the domain had outstanding.
	Pending int
	// Err is the error the domain halted with, if any.
	Err error
}

// controlKind enumerates control messages.
type controlKind int

const (
	ctlReplay controlKind = iota
	ctlReadMiss
	ctlEvictBytes
	ctlEvictKey
	ctlBoot
)

// control is a message on a domain's unbounded control queue. Control
// messages are processed between packets, so sending one never blocks.
type control struct {
	kind controlKind
	// Replay request, for ctlReplay.
	req replay.Request
	// Node and key, for reads, evictions and boots.
	node  graph.NodeID
	key   row.Key
	bytes int64
	// policy picks victims for ctlEvictBytes.
	policy state.Policy
	// done, if set, receives the outcome.
	done chan<- controlResult
}

type controlResult struct {
	freed int64
	err   error
}
