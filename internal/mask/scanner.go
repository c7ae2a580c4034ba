package mask

// run tracks the current maximal run of digits and separators.
type run struct {
	length     int // digits seen, saturating at MaxLength
	prevExtent int // length of the last window masked in this run
}

func (r *run) reset() {
	*r = run{}
}

// Scanner is the per-stream match state: the current run and the checksum
// accumulator. It does not own any output; callers hand it the buffer to
// rewrite when Feed reports a match. A Scanner must not be shared between
// streams.
type Scanner struct {
	acc Accumulator
	run run
}

// Feed advances the scanner by one byte and returns the length of the
// longest Luhn-valid window ending at c, or 0 when there is none.
func (s *Scanner) Feed(c byte) int {
	_, n := s.feed(c)
	return n
}

func (s *Scanner) feed(c byte) (Class, int) {
	class, v := Classify(c)
	switch class {
	case Digit:
		s.acc.Push(v)
		if s.run.length < MaxLength {
			s.run.length++
		}
		if s.run.length < MinLength {
			return class, 0
		}
		return class, s.detect()
	case Separator:
		return class, 0
	default:
		s.run.reset()
		return class, 0
	}
}

// detect checks the longest window first: when a 16 and a 14 digit window
// both end here, masking only the 14 would leave two real digits exposed.
func (s *Scanner) detect() int {
	for n := s.run.length; n >= MinLength; n-- {
		if s.acc.SumOfLastN(n) == 0 {
			return n
		}
	}
	return 0
}

// Reset forgets the current run, as if an Other byte had been seen.
func (s *Scanner) Reset() {
	s.run.reset()
}

// apply masks the window of length digits ending at buf[end] and records it
// as the run's latest mask. It returns the number of digits replaced.
func (s *Scanner) apply(buf []byte, end, length int) int {
	n := maskBackward(buf, end, length, s.run.prevExtent)
	s.run.prevExtent = length
	return n
}
