package mask

// capacity must be a power of two greater than 2*MaxLength so wrap can mask.
const capacity = MaxLength << 1

// doubled holds the Luhn value of each digit after doubling (5 -> 10 -> 1).
var doubled = [10]uint8{0, 2, 4, 6, 8, 1, 3, 5, 7, 9}

// Accumulator answers "what is the Luhn sum of the last n digits" in O(1).
//
// It keeps two ring buffers of running sums mod 10. In sums[cur] the newest
// digit is counted undoubled; in the other one it is counted doubled. Every
// push flips the doubling parity of all earlier digits relative to the new
// end, so the buffers trade roles before the new digit is accumulated into
// both.
//
// The zero value is ready to use.
type Accumulator struct {
	sums [2][capacity]uint8
	cur  int
	end  int
}

func wrap(i int) int {
	return i & (capacity - 1)
}

// Push appends digit d (0..9) at the end of the sequence.
func (acc *Accumulator) Push(d int) {
	acc.cur ^= 1
	undoubled, dbl := &acc.sums[acc.cur], &acc.sums[acc.cur^1]

	prev := wrap(acc.end - 1)
	undoubled[acc.end] = (undoubled[prev] + uint8(d)) % 10
	dbl[acc.end] = (dbl[prev] + doubled[d]) % 10
	acc.end = wrap(acc.end + 1)
}

// SumOfLastN returns the Luhn-weighted sum mod 10 of the last n pushed
// digits, with the newest digit undoubled. n must be in [1, MaxLength] and no
// larger than the number of digits pushed; a window is valid when the result
// is 0.
func (acc *Accumulator) SumOfLastN(n int) int {
	sums := &acc.sums[acc.cur]
	last := wrap(acc.end - 1)
	base := wrap(last - n)
	return (int(sums[last]) - int(sums[base]) + 10) % 10
}
