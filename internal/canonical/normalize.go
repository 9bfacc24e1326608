// Package canonical builds derived name/identity maps from the approved
// subset of the correction ledger. The build is a pure fold: same ledger
// snapshot in, same maps out, so maps can be recomputed on demand or cached
// and invalidated on ledger change.
package canonical

import "strings"

// NormalizeKey lowercases and collapses interior whitespace so that name
// matching is case- and spacing-insensitive. This is the only normalization
// applied to names; there is no semantic matching.
func NormalizeKey(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
