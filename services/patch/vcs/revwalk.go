// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"container/heap"
	"context"
)

type walkNode struct {
	commit        *Commit
	uninteresting bool
	queued        bool
	popped        bool
}

// walkQueue orders nodes newest committer time first, ties by id.
type walkQueue []*walkNode

func (q walkQueue) Len() int { return len(q) }
func (q walkQueue) Less(i, j int) bool {
	ti, tj := q[i].commit.Committer.When, q[j].commit.Committer.When
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return q[i].commit.ID.String() < q[j].commit.ID.String()
}
func (q walkQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *walkQueue) Push(x any)   { *q = append(*q, x.(*walkNode)) }
func (q *walkQueue) Pop() any {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

// revList is a date-ordered walk with uninteresting propagation. The walk
// stops once every queued commit is uninteresting.
func revList(ctx context.Context, load func(ObjectID) (*Commit, error), include, exclude []ObjectID) ([]*Commit, error) {
	nodes := map[ObjectID]*walkNode{}
	q := &walkQueue{}

	get := func(id ObjectID) (*walkNode, error) {
		if n, ok := nodes[id]; ok {
			return n, nil
		}
		c, err := load(id)
		if err != nil {
			return nil, err
		}
		n := &walkNode{commit: c}
		nodes[id] = n
		return n, nil
	}
	enqueue := func(n *walkNode) {
		if !n.queued {
			n.queued = true
			heap.Push(q, n)
		}
	}
	var markUninteresting func(n *walkNode)
	markUninteresting = func(n *walkNode) {
		if n.uninteresting {
			return
		}
		n.uninteresting = true
		if !n.popped {
			return
		}
		for _, p := range n.commit.Parents {
			if pn, ok := nodes[p]; ok {
				markUninteresting(pn)
			}
		}
	}

	for _, id := range exclude {
		n, err := get(id)
		if err != nil {
			return nil, err
		}
		n.uninteresting = true
		enqueue(n)
	}
	for _, id := range include {
		n, err := get(id)
		if err != nil {
			return nil, err
		}
		enqueue(n)
	}

	var order []*walkNode
	for q.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if allUninteresting(*q) {
			break
		}
		n := heap.Pop(q).(*walkNode)
		n.popped = true
		for _, p := range n.commit.Parents {
			pn, err := get(p)
			if err != nil {
				return nil, err
			}
			if n.uninteresting {
				markUninteresting(pn)
			}
			enqueue(pn)
		}
		if !n.uninteresting {
			order = append(order, n)
		}
	}

	out := make([]*Commit, 0, len(order))
	for _, n := range order {
		if !n.uninteresting {
			out = append(out, n.commit)
		}
	}
	return out, nil
}

func allUninteresting(q walkQueue) bool {
	for _, n := range q {
		if !n.uninteresting {
			return false
		}
	}
	return true
}
