// SPDX-License-Identifier: MIT

package gravity

import (
	"context"
	"sort"

	"github.com/katalvlaran/tripdist/furness"
)

// rendezvous pairs every area with an aggregator through one request and
// one reply channel, each of capacity one. An area has at most one request
// in flight, so it cannot submit round n+1 before round n is answered.
//
// Only the area sends on (and closes) its request channel; only the
// aggregator sends on (and closes) the reply channels.
type rendezvous[Req any] struct {
	req map[int]chan Req
	rep map[int]chan furness.Result
}

func newRendezvous[Req any](ids []int) *rendezvous[Req] {
	rv := &rendezvous[Req]{
		req: make(map[int]chan Req, len(ids)),
		rep: make(map[int]chan furness.Result, len(ids)),
	}
	for _, id := range ids {
		rv.req[id] = make(chan Req, 1)
		rv.rep[id] = make(chan furness.Result, 1)
	}

	return rv
}

// exchange submits r for area id and waits for that round's reply.
func (rv *rendezvous[Req]) exchange(ctx context.Context, id int, r Req) (furness.Result, error) {
	select {
	case rv.req[id] <- r:
	case <-ctx.Done():
		return furness.Result{}, ctx.Err()
	}
	select {
	case res, ok := <-rv.rep[id]:
		if !ok {
			return furness.Result{}, ErrAggregatorStopped
		}
		return res, nil
	case <-ctx.Done():
		return furness.Result{}, ctx.Err()
	}
}

// leave marks area id as finished. Must be called exactly once per area.
func (rv *rendezvous[Req]) leave(id int) { close(rv.req[id]) }

// gather receives one request from every area in active, in order. Areas
// whose request channel is closed have left and are dropped from the
// returned active set.
func (rv *rendezvous[Req]) gather(ctx context.Context, active []int) (map[int]Req, []int, error) {
	subs := make(map[int]Req, len(active))
	remaining := make([]int, 0, len(active))
	for _, id := range active {
		select {
		case r, ok := <-rv.req[id]:
			if !ok {
				continue
			}
			subs[id] = r
			remaining = append(remaining, id)
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	return subs, remaining, nil
}

// reply answers area id for the current round. Never blocks: the area has
// exactly one outstanding request.
func (rv *rendezvous[Req]) reply(id int, res furness.Result) { rv.rep[id] <- res }

// closeReplies releases every area still waiting for a reply.
func (rv *rendezvous[Req]) closeReplies() {
	for _, ch := range rv.rep {
		close(ch)
	}
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	return keys
}
