package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Events receives notifications after the staking ledger has been updated.
// Implementations must not call back into the emitting engine.
type Events interface {
	Distributed(amount *big.Int)
	Claimed(account common.Address, amount *big.Int)
}

type NopEvents struct{}

func (NopEvents) Distributed(*big.Int)             {}
func (NopEvents) Claimed(common.Address, *big.Int) {}
