package notify

import (
	"fmt"
	"strings"

	"onchainScreener/internal/model"
)

const maxListedAddresses = 3

// FormatSignal renders a signal as a plain-text alert.
func FormatSignal(sig model.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s | %s\n\n", strings.TrimSpace(sig.MessageTier), strings.ToUpper(sig.Ticker), strings.ToUpper(sig.Chain))

	switch sig.EventType {
	case model.EventWatchedWallet:
		fmt.Fprintf(&b, "Tokens: %s\n", formatAmount(sig.TokenAmount))
		fmt.Fprintf(&b, "USD total: $%s\n", formatAmount(sig.USDAmount))
		fmt.Fprintf(&b, "Watched wallet #%d: %s\n\n", sig.WalletIndex, sig.WalletAddress)
	case model.EventUSDBasedTransfer:
		fmt.Fprintf(&b, "Tokens: %s\n", formatAmount(sig.TokenAmount))
		fmt.Fprintf(&b, "USD total: $%s\n\n", formatAmount(sig.USDAmount))
	default:
		fmt.Fprintf(&b, "Event: %.2f%% circ. supply %s\n", sig.SupplyPercent*100, strings.ToLower(sig.EventType))
		fmt.Fprintf(&b, "Trade: %s\n\n", tradeArrow(sig.Direction))
	}

	if len(sig.FromAddresses) > 0 || len(sig.ToAddresses) > 0 {
		var from, to map[string]string
		if sig.FilterMatches != nil {
			from, to = sig.FilterMatches.From, sig.FilterMatches.To
		}
		b.WriteString("Addresses:\n")
		if len(sig.FromAddresses) > 0 {
			fmt.Fprintf(&b, "  From: %s\n", formatAddresses(sig.FromAddresses, from))
		}
		if len(sig.ToAddresses) > 0 {
			fmt.Fprintf(&b, "  To: %s\n", formatAddresses(sig.ToAddresses, to))
		}
		b.WriteString("\n")
	}
	if sig.FromMultisig {
		b.WriteString("Sent from a multisig wallet\n")
	}

	fmt.Fprintf(&b, "Contract: %s\n", sig.Contract)
	if sig.TxHash != "" {
		fmt.Fprintf(&b, "Transaction: %s\n", sig.TxHash)
	}
	if sig.AutoOpen {
		b.WriteString("Auto-open: yes\n")
	}
	return b.String()
}

// FormatError renders an operator error alert.
func FormatError(title, message string) string {
	return fmt.Sprintf("Error Alert\n\nType: %s\n\nMessage: %s\n", title, message)
}

func tradeArrow(d model.Direction) string {
	if d == model.Long {
		return "BUY ↗"
	}
	return "SELL ↘"
}

func formatAddresses(addrs []string, names map[string]string) string {
	shown := addrs
	if len(shown) > maxListedAddresses {
		shown = shown[:maxListedAddresses]
	}
	parts := make([]string, 0, len(shown))
	for _, addr := range shown {
		short := addr
		if len(addr) > 10 {
			short = addr[:6] + "..." + addr[len(addr)-4:]
		}
		if name := names[strings.ToLower(addr)]; name != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, short))
		} else {
			parts = append(parts, short)
		}
	}
	out := strings.Join(parts, ", ")
	if extra := len(addrs) - len(shown); extra > 0 {
		out += fmt.Sprintf(" (+%d more)", extra)
	}
	return out
}

// formatAmount prints a value with two decimals and thousands separators.
func formatAmount(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
