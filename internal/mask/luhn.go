package mask

// Valid reports whether number is a 14 to 16 digit Luhn-valid card number.
// Spaces and hyphens are ignored; any other non-digit makes it invalid.
func Valid(number string) bool {
	digits := make([]byte, 0, MaxLength)
	for i := 0; i < len(number); i++ {
		switch class, _ := Classify(number[i]); class {
		case Digit:
			digits = append(digits, number[i])
		case Other:
			return false
		}
	}
	if len(digits) < MinLength || len(digits) > MaxLength {
		return false
	}
	return luhnSum(digits, false)%10 == 0
}

// CheckDigit returns the digit that makes allButLast followed by it pass the
// Luhn check. allButLast must contain only ASCII digits.
func CheckDigit(allButLast string) byte {
	sum := luhnSum([]byte(allButLast), true) % 10
	if sum == 0 {
		return '0'
	}
	return byte('0' + 10 - sum)
}

// luhnSum sums digits right to left, doubling every second one. When
// doubleLast is set the rightmost digit is doubled, which is what a prefix
// of a number sees once its check digit is appended.
func luhnSum(digits []byte, doubleLast bool) int {
	sum := 0
	dbl := doubleLast
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i] - '0'
		if dbl {
			sum += int(doubled[d])
		} else {
			sum += int(d)
		}
		dbl = !dbl
	}
	return sum
}
