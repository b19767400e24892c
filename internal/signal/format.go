package signal

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

func usd(v float64) string {
	return humanize.CommafWithDigits(v, 3)
}

func hotMomentumMsg(in *input) string {
	return fmt.Sprintf("%s is heating up | $%.6f (%+.2f%%) | %d/%d B/S | Vol: $%s",
		in.symbol, in.price, in.change5, in.buys, in.sells, usd(in.vol5))
}

func volumeSpikeMsg(in *input, multiplier float64) string {
	return fmt.Sprintf("%s volume %.1fx above average | %d buys vs %d sells | Vol: $%s",
		in.symbol, multiplier, in.buys, in.sells, usd(in.vol5))
}

func breakoutMsg(in *input) string {
	return fmt.Sprintf("%s breaking resistance | %+.2f%% 5m | %+.2f%% 1h | Vol: $%s",
		in.symbol, in.change5, in.change1h, usd(in.vol5))
}

func whaleMoveMsg(in *input, whale float64, side string, impact float64) string {
	return fmt.Sprintf("Whale %s on %s | $%.6f | Impact: $%s (%.1f%% of 1h vol)",
		side, in.symbol, in.price, usd(whale), impact)
}

func smartMoneyMsg(in *input, wallets int) string {
	return fmt.Sprintf("Smart money accumulating %s | $%.6f | %+.2f%% | %d active wallets",
		in.symbol, in.price, in.change5, wallets)
}

func reversalMsg(in *input) string {
	return fmt.Sprintf("%s showing reversal signs | bullish short-term vs bearish trend | Vol: $%s",
		in.symbol, usd(in.vol5))
}
