package alerts

import (
	"fmt"
	"math/big"
	"time"
)

// Message formatting lives on the alerter so every caller phrases pool
// conditions the same way.

func (t *Telegram) FormatUtilization(pool string, pct uint64) string {
	return fmt.Sprintf("Utilization warning: %s pool at %d%%, writing capacity is running low", pool, pct)
}

func (t *Telegram) FormatLargePayout(pool string, optionID uint64, profit *big.Int) string {
	return fmt.Sprintf("Large payout: %s pool paid %s on option %d", pool, profit, optionID)
}

func (t *Telegram) FormatStaleFeed(updatedAt time.Time, age time.Duration) string {
	return fmt.Sprintf("Price feed stale for %s, last update %s", age.Round(time.Second), updatedAt.Format("2006-01-02 15:04:05 MST"))
}
