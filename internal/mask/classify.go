// Package mask finds Luhn-valid card numbers in a byte stream and replaces
// their digits with 'X' while the stream is still flowing.
package mask

const (
	// MinLength is the shortest digit window treated as a card number.
	MinLength = 14
	// MaxLength is the longest digit window treated as a card number.
	MaxLength = 16
	// Mask replaces every digit of a matched window.
	Mask = 'X'
)

// Class is the category of a single input byte.
type Class uint8

const (
	Other Class = iota
	Digit
	Separator
)

func (c Class) String() string {
	switch c {
	case Digit:
		return "digit"
	case Separator:
		return "separator"
	default:
		return "other"
	}
}

// Classify reports the class of c and, for digits, its value.
func Classify(c byte) (Class, int) {
	switch {
	case c >= '0' && c <= '9':
		return Digit, int(c - '0')
	case c == ' ' || c == '-':
		return Separator, 0
	default:
		return Other, 0
	}
}
