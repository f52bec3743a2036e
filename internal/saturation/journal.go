package saturation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

type undoKind int

const (
	undoTranche undoKind = iota
	undoAccount
	undoUnpaid
)

// undo is the state one mutation overwrote.
type undo struct {
	kind    undoKind
	tree    *Tree
	tranche Tranche
	pair    SaturationPair
	accrual trancheAccrual
	hadAcc  bool
	account uuid.UUID
	record  *Account
	unpaid  uint256.Int
	hadPaid bool
}

// journal records every mutation of one update so a failed update can be
// unwound in reverse order, each step restoring a state that existed before.
type journal struct {
	s     *Saturation
	undos []undo
}

func (s *Saturation) newJournal() *journal {
	return &journal{s: s}
}

func (j *journal) setTranchePair(t *Tree, tr Tranche, next SaturationPair) error {
	u := undo{kind: undoTranche, tree: t, tranche: tr, pair: t.trancheSat[tr]}
	u.accrual, u.hadAcc = t.trancheAcc[tr]
	if err := t.setTranchePair(tr, next); err != nil {
		return err
	}
	j.undos = append(j.undos, u)
	return nil
}

func (j *journal) setAccount(t *Tree, id uuid.UUID, a *Account) {
	j.undos = append(j.undos, undo{kind: undoAccount, tree: t, account: id, record: t.accounts[id]})
	if a == nil {
		delete(t.accounts, id)
		return
	}
	t.accounts[id] = a
}

func (j *journal) setUnpaid(id uuid.UUID, v *uint256.Int) {
	u := undo{kind: undoUnpaid, account: id}
	if prev, ok := j.s.unpaid[id]; ok {
		u.unpaid, u.hadPaid = prev, true
	}
	j.undos = append(j.undos, u)
	if v.IsZero() {
		delete(j.s.unpaid, id)
		return
	}
	j.s.unpaid[id] = *v
}

// rollback restores everything the journal touched.
func (j *journal) rollback() {
	for i := len(j.undos) - 1; i >= 0; i-- {
		u := j.undos[i]
		switch u.kind {
		case undoTranche:
			if err := u.tree.setTranchePair(u.tranche, u.pair); err != nil {
				panic(fmt.Sprintf("FATAL: rollback of tranche %d failed: %v", u.tranche, err))
			}
			if u.hadAcc {
				u.tree.trancheAcc[u.tranche] = u.accrual
			} else {
				delete(u.tree.trancheAcc, u.tranche)
			}
		case undoAccount:
			if u.record == nil {
				delete(u.tree.accounts, u.account)
			} else {
				u.tree.accounts[u.account] = u.record
			}
		case undoUnpaid:
			if u.hadPaid {
				j.s.unpaid[u.account] = u.unpaid
			} else {
				delete(j.s.unpaid, u.account)
			}
		}
	}
	j.undos = nil
}
