package exchange

import (
	"strings"

	"quantdinger-engine/internal/market"
)

// Symbol mapping between the engine's "BASE/QUOTE" form and venue-native
// identifiers.

// ToBinanceSymbol returns BTCUSDT.
func ToBinanceSymbol(symbol string) string {
	return market.NormalizeSymbol(symbol)
}

// ToOkxSpotInstID returns BTC-USDT.
func ToOkxSpotInstID(symbol string) string {
	base, quote, err := market.SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return base + "-" + quote
}

// ToOkxSwapInstID returns BTC-USDT-SWAP.
func ToOkxSwapInstID(symbol string) string {
	return ToOkxSpotInstID(symbol) + "-SWAP"
}

// ToGateCurrencyPair returns BTC_USDT, used for both spot pairs and USDT
// futures contracts.
func ToGateCurrencyPair(symbol string) string {
	base, quote, err := market.SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return base + "_" + quote
}

// ToKucoinSpotSymbol returns BTC-USDT.
func ToKucoinSpotSymbol(symbol string) string {
	base, quote, err := market.SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return base + "-" + quote
}

// ToKucoinFuturesSymbol returns XBTUSDTM. KuCoin futures call bitcoin XBT.
func ToKucoinFuturesSymbol(symbol string) string {
	base, quote, err := market.SplitSymbol(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + quote + "M"
}

// ToBybitSymbol returns BTCUSDT.
func ToBybitSymbol(symbol string) string {
	return market.NormalizeSymbol(symbol)
}

// ToBitgetSymbol returns BTCUSDT.
func ToBitgetSymbol(symbol string) string {
	return market.NormalizeSymbol(symbol)
}
