// Package partnum canonicalizes part numbers so that the same physical part
// written different ways on invoices and receiving exports compares equal.
package partnum

// Canonical uppercases raw, keeps only ASCII letters and digits and strips
// leading zeros. The result is empty when raw has no letters or digits, or
// when it is made entirely of zeros.
func Canonical(raw string) string {
	buf := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			continue
		}
		if c == '0' && len(buf) == 0 {
			continue
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// Valid reports whether a canonical part number can be used as a join key.
func Valid(canonical string) bool {
	return canonical != ""
}
