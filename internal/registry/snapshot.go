package registry

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a point-in-time export of the ownership map, used so positions
// survive a process restart alongside the ledger they belong to.
type Snapshot struct {
	Positions []PositionSnapshot `json:"positions"`
	Operators []OperatorSnapshot `json:"operators,omitempty"`
}

type PositionSnapshot struct {
	ID       uint64 `json:"id"`
	Owner    string `json:"owner"`
	Approved string `json:"approved,omitempty"`
}

type OperatorSnapshot struct {
	Owner    string `json:"owner"`
	Operator string `json:"operator"`
}

// Snapshot exports positions in id order and operator grants in address
// order.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{}
	for id, owner := range m.owners {
		pos := PositionSnapshot{ID: id, Owner: owner.Hex()}
		if approved, ok := m.approved[id]; ok && approved != (common.Address{}) {
			pos.Approved = approved.Hex()
		}
		snap.Positions = append(snap.Positions, pos)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].ID < snap.Positions[j].ID
	})
	for owner, ops := range m.operators {
		for operator, approved := range ops {
			if !approved {
				continue
			}
			snap.Operators = append(snap.Operators, OperatorSnapshot{
				Owner:    owner.Hex(),
				Operator: operator.Hex(),
			})
		}
	}
	sort.Slice(snap.Operators, func(i, j int) bool {
		if snap.Operators[i].Owner != snap.Operators[j].Owner {
			return snap.Operators[i].Owner < snap.Operators[j].Owner
		}
		return snap.Operators[i].Operator < snap.Operators[j].Operator
	})
	return snap
}

// Restore replaces the ownership map with the snapshot's contents. The
// transfer hook does not fire; a restore re-establishes state, it is not a
// transfer.
func (m *Manager) Restore(snap Snapshot) error {
	owners := make(map[uint64]common.Address, len(snap.Positions))
	approved := make(map[uint64]common.Address)
	for _, pos := range snap.Positions {
		owner := common.HexToAddress(pos.Owner)
		if owner == (common.Address{}) {
			return fmt.Errorf("position %d: %w", pos.ID, ErrZeroAddress)
		}
		if _, ok := owners[pos.ID]; ok {
			return fmt.Errorf("position %d: %w", pos.ID, ErrExists)
		}
		owners[pos.ID] = owner
		if pos.Approved != "" {
			approved[pos.ID] = common.HexToAddress(pos.Approved)
		}
	}
	operators := make(map[common.Address]map[common.Address]bool)
	for _, grant := range snap.Operators {
		owner := common.HexToAddress(grant.Owner)
		ops, ok := operators[owner]
		if !ok {
			ops = make(map[common.Address]bool)
			operators[owner] = ops
		}
		ops[common.HexToAddress(grant.Operator)] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners = owners
	m.approved = approved
	m.operators = operators
	return nil
}
