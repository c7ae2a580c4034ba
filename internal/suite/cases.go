// Package suite generates the card masking conformance cases and runs them
// against a masking target, either the in-process engine or an external
// command reading stdin and writing stdout.
package suite

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/colebrumley/cardmask/internal/mask"
)

// Case is one conformance case. Input and Expected both end with a line
// feed so cases can be concatenated into a single stream.
type Case struct {
	Index       int
	Description string
	Input       string
	Expected    string
}

type generator struct {
	rng   *rand.Rand
	cases []Case
}

func (g *generator) add(description, input, expected string) {
	g.cases = append(g.cases, Case{
		Index:       len(g.cases) + 1,
		Description: description,
		Input:       input + "\n",
		Expected:    expected + "\n",
	})
}

func (g *generator) same(description, s string) {
	g.add(description, s, s)
}

// Generate returns the conformance cases. The same seed always produces the
// same cases.
func Generate(seed int64) []Case {
	g := &generator{rng: newRand(seed)}

	g.same("line feed preservation", "LF only ->\n<- LF only")

	for n := mask.MinLength; n <= mask.MaxLength; n++ {
		g.add(fmt.Sprintf("valid %d-digit #", n), g.randomNumber(n), masked(n))
	}
	for n := mask.MinLength; n <= mask.MaxLength; n++ {
		g.same(fmt.Sprintf("non-matching %d-digit #", n), g.nonMatching(n))
	}

	g.same("not enough digits", g.nonMatching(mask.MinLength-1))

	g.same("too many digits", g.tooMany())

	g.add("14-digit # prefixed with 0s", "00"+g.randomNumber(14), masked(16))
	g.add("2 non-matching digits followed by a 14-digit #", "1256613959932537", "12XXXXXXXXXXXXXX")
	g.add("14-digit # embedded in a 16-digit #", g.nestedNumber(), masked(16))
	g.add("16-digit # flanked by non-matching digits", "9875610591081018250321", "987XXXXXXXXXXXXXXXX321")

	for _, sep := range []byte{' ', '-'} {
		g.add(fmt.Sprintf("16-digit # delimited with '%c'", sep),
			format(g.randomNumber(16), sep), format(masked(16), sep))
	}

	g.add("exception message containing a card #",
		"java.lang.FakeException: "+format(g.randomNumber(16), ' ')+" is a card #.",
		"java.lang.FakeException: "+format(masked(16), ' ')+" is a card #.")

	g.same("non-matching message", "4111 1111 1111 111 doesn't have enough digits.")
	g.same("non-matching message", "56613959932535089 has too many digits.")

	g.add("sequence of zeros", strings.Repeat("0", 1000), masked(1000))
	g.same("long sequence of non-digits", g.nonDigits(1000))

	chain := g.overlapping(1000)
	g.add("long sequence of overlapping, valid #s", chain, masked(len(chain)))

	g.same("long sequence of digits with no matches", g.nonMatching(1000))

	return g.cases
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x5eed))
}

func masked(n int) string {
	return strings.Repeat(string(rune(mask.Mask)), n)
}

// format groups a 16 digit string in fours.
func format(number string, sep byte) string {
	var sb strings.Builder
	for i := 0; i < 16; i += 4 {
		if i > 0 {
			sb.WriteByte(sep)
		}
		sb.WriteString(number[i : i+4])
	}
	return sb.String()
}

func (g *generator) digit() byte {
	return byte('0' + g.rng.IntN(10))
}

func (g *generator) digits(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = g.digit()
	}
	return b
}

func (g *generator) randomNumber(n int) string {
	b := g.digits(n - 1)
	return string(append(b, mask.CheckDigit(string(b))))
}

// nestedNumber returns a valid 16-digit number whose digits 2 through 15
// also form a valid 14-digit number.
func (g *generator) nestedNumber() string {
	b := g.digits(14)
	b = append(b, mask.CheckDigit(string(b[1:14])))
	b = append(b, mask.CheckDigit(string(b[0:15])))
	return string(b)
}

// nonMatching returns n digits in which no 14, 15 or 16 digit window passes
// the Luhn check.
func (g *generator) nonMatching(n int) string {
	b := make([]byte, 0, n)
	for len(b) < n {
		var excluded [10]bool
		for l := mask.MinLength; l <= mask.MaxLength; l++ {
			start := len(b) - (l - 1)
			if start < 0 {
				break
			}
			excluded[mask.CheckDigit(string(b[start:]))-'0'] = true
		}
		d := g.digit()
		for excluded[d-'0'] {
			d = g.digit()
		}
		b = append(b, d)
	}
	return string(b)
}

// tooMany returns a Luhn-valid 17 digit number none of whose windows is a
// card number.
func (g *generator) tooMany() string {
	for {
		s := g.nonMatching(mask.MaxLength)
		s += string(mask.CheckDigit(s))
		ok := true
		for l := mask.MinLength; l <= mask.MaxLength; l++ {
			if mask.Valid(s[len(s)-l:]) {
				ok = false
			}
		}
		if ok {
			return s
		}
	}
}

// overlapping returns n digits where every 16 digit window is valid.
func (g *generator) overlapping(n int) string {
	b := []byte(g.randomNumber(mask.MaxLength))
	for i := 0; len(b) < n; i++ {
		b = append(b, mask.CheckDigit(string(b[i+1:i+mask.MaxLength])))
	}
	return string(b)
}

// nonDigits returns n bytes drawn from ':' through '}'.
func (g *generator) nonDigits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(':' + g.rng.IntN(68))
	}
	return string(b)
}
