package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Snapshot is a deep copy of the ledger used to undo a failed operation.
type Snapshot struct {
	accounts map[common.Address]*Account
	custody  map[common.Address]*uint256.Int
	reserve  map[common.Address]*uint256.Int
	badDebt  *uint256.Int
}

// Snapshot copies the complete ledger state.
func (l *Ledger) Snapshot() *Snapshot {
	s := &Snapshot{
		accounts: make(map[common.Address]*Account, len(l.accounts)),
		custody:  make(map[common.Address]*uint256.Int, len(l.custody)),
		reserve:  make(map[common.Address]*uint256.Int, len(l.reserve)),
		badDebt:  l.badDebt.Clone(),
	}
	for user, acc := range l.accounts {
		s.accounts[user] = acc.clone()
	}
	for asset, total := range l.custody {
		s.custody[asset] = total.Clone()
	}
	for asset, total := range l.reserve {
		s.reserve[asset] = total.Clone()
	}
	return s
}

// Restore replaces the ledger state with the snapshot. The snapshot stays
// usable afterwards.
func (l *Ledger) Restore(s *Snapshot) {
	restored := s.clone()
	l.accounts = restored.accounts
	l.custody = restored.custody
	l.reserve = restored.reserve
	l.badDebt = restored.badDebt
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		accounts: make(map[common.Address]*Account, len(s.accounts)),
		custody:  make(map[common.Address]*uint256.Int, len(s.custody)),
		reserve:  make(map[common.Address]*uint256.Int, len(s.reserve)),
		badDebt:  s.badDebt.Clone(),
	}
	for user, acc := range s.accounts {
		c.accounts[user] = acc.clone()
	}
	for asset, total := range s.custody {
		c.custody[asset] = total.Clone()
	}
	for asset, total := range s.reserve {
		c.reserve[asset] = total.Clone()
	}
	return c
}
