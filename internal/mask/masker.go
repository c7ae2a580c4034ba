package mask

// maskBackward replaces the length digits of the window ending at buf[end]
// with Mask, skipping separators.
//
// prev is the length of the window masked last in the same run. Everything
// between that window's end and buf[end] is unmasked, so the first Mask byte
// the walk meets is the end of the previous window. shortfall counts how far
// the new window still reaches past the previous one; once it is used up the
// rest of the window is already masked and the walk stops there. While it is
// not, masked bytes are walked through and counted against the window.
func maskBackward(buf []byte, end, length, prev int) int {
	remaining, shortfall, masked := length, length-prev, 0
	for i := end; i >= 0 && remaining > 0; i-- {
		switch c := buf[i]; {
		case c >= '0' && c <= '9':
			buf[i] = Mask
			masked++
			remaining--
			shortfall--
		case c == Mask:
			if shortfall <= 0 {
				return masked
			}
			remaining--
		}
	}
	return masked
}
