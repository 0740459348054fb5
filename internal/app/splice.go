package app

// ApplySplice replaces length code points of base starting at offset with
// insert. offset is clamped into [0, len]; a negative length removes nothing.
func ApplySplice(base string, offset, length int, insert string) string {
	r := []rune(base)
	n := len(r)
	offset = max(0, min(offset, n))
	end := n
	if length <= 0 {
		end = offset
	} else if length < n-offset {
		end = offset + length
	}
	return string(r[:offset]) + insert + string(r[end:])
}
