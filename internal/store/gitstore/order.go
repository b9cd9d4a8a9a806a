package gitstore

import (
	"container/heap"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// readyQueue orders commits whose parents have all been emitted by commit
// time, then by hash so equal timestamps stay deterministic.
type readyQueue []*object.Commit

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	ti, tj := q[i].Committer.When, q[j].Committer.When
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return q[i].Hash.String() < q[j].Hash.String()
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*object.Commit)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// topoSort orders commits oldest first: every commit follows all of its
// parents, and among commits that are ready at the same time the earliest
// is emitted first.
func topoSort(commits []*object.Commit) []*object.Commit {
	pending := make(map[plumbing.Hash]int, len(commits))
	children := make(map[plumbing.Hash][]*object.Commit, len(commits))
	known := make(map[plumbing.Hash]bool, len(commits))
	for _, c := range commits {
		known[c.Hash] = true
	}

	q := &readyQueue{}
	for _, c := range commits {
		for _, p := range c.ParentHashes {
			if !known[p] {
				continue
			}
			pending[c.Hash]++
			children[p] = append(children[p], c)
		}
		if pending[c.Hash] == 0 {
			heap.Push(q, c)
		}
	}

	out := make([]*object.Commit, 0, len(commits))
	for q.Len() > 0 {
		c := heap.Pop(q).(*object.Commit)
		out = append(out, c)
		for _, child := range children[c.Hash] {
			pending[child.Hash]--
			if pending[child.Hash] == 0 {
				heap.Push(q, child)
			}
		}
	}
	return out
}
