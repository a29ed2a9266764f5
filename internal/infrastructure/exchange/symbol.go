package exchange

import "strings"

// perpSymbol converts a venue-neutral pair like "ETH-USD" into the USDT-margined
// perpetual ticker both binance and bybit use, e.g. "ETHUSDT".
func perpSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	if strings.HasSuffix(s, "USD") {
		return s + "T"
	}
	return s + "USDT"
}
