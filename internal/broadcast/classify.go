package broadcast

import (
	"regexp"
	"strconv"
)

// Nonce-conflict patterns per node implementation. Only formats carrying the
// node's expected nonce are recoverable; a bare "nonce too low" without a
// number gives nothing to resend with and stays terminal.
//
//nolint:gochecknoglobals // Compiled once, read-only
var noncePatterns = []*regexp.Regexp{
	// geth >= 1.10: "nonce too low: next nonce 7, tx nonce 5"
	regexp.MustCompile(`nonce too low: next nonce (\d+)`),
	// OpenEthereum/Parity: "Transaction nonce is too low. Expected nonce to be 7 ..."
	regexp.MustCompile(`[Ee]xpected nonce to be (\d+)`),
	// Hosted providers: "... current nonce (7) ..."
	regexp.MustCompile(`current nonce \((\d+)\)`),
	// Besu/Nethermind style: "invalid nonce; got 5, expected 7"
	regexp.MustCompile(`invalid nonce; got \d+, expected (\d+)`),
}

// extractExpectedNonce inspects a node error message and, when it is a nonce
// conflict in a known format, returns the nonce the node expects. Unmatched
// messages are terminal.
func extractExpectedNonce(msg string) (uint64, bool) {
	for _, pattern := range noncePatterns {
		m := pattern.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
