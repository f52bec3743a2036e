package saturation

import (
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"
)

// CompactIntegerSet holds the tranche ids that currently map to one leaf.
type CompactIntegerSet interface {
	Insert(id int16)
	Remove(id int16)
	Contains(id int16) bool
	Len() int
	// Values returns the ids in ascending order.
	Values() []int16
}

// trancheSet is an ordered set backed by a red-black tree.
type trancheSet struct {
	tree *rbt.Tree[int16, struct{}]
}

func newTrancheSet() CompactIntegerSet {
	return &trancheSet{tree: rbt.New[int16, struct{}]()}
}

func (s *trancheSet) Insert(id int16) { s.tree.Put(id, struct{}{}) }
func (s *trancheSet) Remove(id int16) { s.tree.Remove(id) }
func (s *trancheSet) Len() int        { return s.tree.Size() }
func (s *trancheSet) Values() []int16 { return s.tree.Keys() }

func (s *trancheSet) Contains(id int16) bool {
	_, found := s.tree.Get(id)
	return found
}
