package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Events receives lifecycle notifications after the pool state has been
// updated. Implementations must not call back into the emitting pool.
type Events interface {
	Provided(owner common.Address, trancheID uint64, amount, share *big.Int, hedged bool)
	Withdrawn(owner common.Address, trancheID uint64, amount *big.Int)
	Acquired(holder common.Address, optionID uint64, settlementFee, premium *big.Int)
	Exercised(optionID uint64, profit *big.Int)
	Expired(optionID uint64)
	TrancheTransferred(from, to common.Address, trancheID uint64)
}

// NopEvents discards everything.
type NopEvents struct{}

func (NopEvents) Provided(common.Address, uint64, *big.Int, *big.Int, bool) {}
func (NopEvents) Withdrawn(common.Address, uint64, *big.Int)                {}
func (NopEvents) Acquired(common.Address, uint64, *big.Int, *big.Int)       {}
func (NopEvents) Exercised(uint64, *big.Int)                                {}
func (NopEvents) Expired(uint64)                                            {}
func (NopEvents) TrancheTransferred(common.Address, common.Address, uint64) {}
