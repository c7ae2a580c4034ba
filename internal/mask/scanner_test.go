package mask

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func feedAll(s *Scanner, in string) []int {
	out := make([]int, len(in))
	for i := 0; i < len(in); i++ {
		out[i] = s.Feed(in[i])
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		c     byte
		class Class
		value int
	}{
		{'0', Digit, 0},
		{'7', Digit, 7},
		{'9', Digit, 9},
		{' ', Separator, 0},
		{'-', Separator, 0},
		{'\n', Other, 0},
		{'\t', Other, 0},
		{'X', Other, 0},
		{'a', Other, 0},
		{0xff, Other, 0},
	}
	for _, tt := range tests {
		class, v := Classify(tt.c)
		assert.Equalf(t, tt.class, class, "class of %q", tt.c)
		assert.Equalf(t, tt.value, v, "value of %q", tt.c)
	}
	assert.Equal(t, "separator", Separator.String())
}

func TestScanner_MatchesSixteenDigits(t *testing.T) {
	var s Scanner
	got := feedAll(&s, "4111111111111111")
	assert.Equal(t, 16, got[15])
	for i := 0; i < 15; i++ {
		assert.Zerof(t, got[i], "digit %d", i)
	}
}

func TestScanner_PrefersLongestWindow(t *testing.T) {
	// "59" adds 1+9 to the sum, so the 16 and the trailing 14 digit windows
	// are both valid at the last digit.
	n14 := "3056930902590"
	n14 += string(CheckDigit(n14))
	var s Scanner
	got := feedAll(&s, "59"+n14)
	assert.Equal(t, 16, got[15])

	var inner Scanner
	assert.Equal(t, 14, feedAll(&inner, n14)[13])
}

func TestScanner_ShortRunNeverMatches(t *testing.T) {
	var s Scanner
	got := feedAll(&s, "0000000000000")
	for _, n := range got {
		assert.Zero(t, n)
	}
}

func TestScanner_SeparatorsDoNotCount(t *testing.T) {
	var s Scanner
	got := feedAll(&s, "4111 1111-1111  1111")
	assert.Equal(t, 16, got[len(got)-1])
	assert.Zero(t, got[len(got)-2])
}

func TestScanner_OtherResetsRun(t *testing.T) {
	var s Scanner
	feedAll(&s, "41111111x")
	assert.Zero(t, s.run.length)
	assert.Zero(t, s.run.prevExtent)

	got := feedAll(&s, "11111111")
	for _, n := range got {
		assert.Zero(t, n)
	}
	assert.Equal(t, 8, s.run.length)
	assert.Zero(t, s.run.prevExtent)
}

func TestScanner_OtherClearsPreviousMask(t *testing.T) {
	var s Scanner
	buf := []byte("4111111111111111")
	got := feedAll(&s, string(buf))
	assert.Equal(t, 16, got[len(got)-1])
	s.apply(buf, len(buf)-1, 16)
	assert.Equal(t, 16, s.run.prevExtent)

	feedAll(&s, "x")
	assert.Zero(t, s.run.length)
	assert.Zero(t, s.run.prevExtent)
}

func TestScanner_LengthSaturates(t *testing.T) {
	var s Scanner
	feedAll(&s, "12345678901234567890123")
	assert.Equal(t, MaxLength, s.run.length)
}

// nestedNumber builds a 16 digit number whose last 14 digits are also
// valid, from a 13 digit prefix for the inner number.
func nestedNumber(inner13 string) string {
	inner := "1" + inner13
	inner += string(CheckDigit(inner[1:]))
	return inner + string(CheckDigit(inner))
}
