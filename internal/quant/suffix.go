package quant

import "strconv"

// IsoformSuffix renders the ordinal of an isoform within its miRNA group:
// a..z for 0..25, then the letter followed by the cycle number (a1, b1, ...).
// Trained models carry keys in this form, so it must not change.
func IsoformSuffix(ordinal int) string {
	if ordinal < 0 {
		ordinal = 0
	}
	s := string(rune('a' + ordinal%26))
	if ordinal >= 26 {
		s += strconv.Itoa(ordinal / 26)
	}
	return s
}
