package market

import (
	"fmt"
	"strings"
)

const allowedSymbolChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_/.:"

// ValidateInstrument rejects empty symbols and characters that cannot be
// carried into a ledger path.
func ValidateInstrument(symbol string) error {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return fmt.Errorf("instrument must be non-empty")
	}
	for _, ch := range s {
		if !strings.ContainsRune(allowedSymbolChars, ch) {
			return fmt.Errorf("instrument contains unsupported characters: %q", symbol)
		}
	}
	return nil
}

// StorageSymbol normalises an instrument for filesystem identity:
// BTC/USD -> BTC_USD.
func StorageSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "_")
	return strings.ReplaceAll(s, ":", "_")
}
