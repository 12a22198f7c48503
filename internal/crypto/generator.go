// Package crypto generates random passwords and passphrases for new credentials.
package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

const (
	// DefaultLength is the password length offered by default
	DefaultLength = 16
	// MaxLength bounds generated passwords
	MaxLength = 128
)

// Character classes
const (
	Lowercase = "abcdefghijklmnopqrstuvwxyz"
	Uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits    = "0123456789"
	Symbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

var (
	ErrInvalidLength    = errors.New("length must be between 1 and 128")
	ErrInvalidWordCount = errors.New("word count must be positive")
)

var (
	mu     sync.RWMutex
	random io.Reader = rand.Reader
)

// SetRandomSource replaces the CSPRNG, for tests. nil restores crypto/rand.
func SetRandomSource(r io.Reader) {
	mu.Lock()
	defer mu.Unlock()
	if r == nil {
		r = rand.Reader
	}
	random = r
}

func source() io.Reader {
	mu.RLock()
	defer mu.RUnlock()
	return random
}

// Options selects the character classes of a generated password. Lowercase letters
// are always included.
type Options struct {
	Length    int
	Uppercase bool
	Digits    bool
	Symbols   bool
}

// DefaultOptions returns a 16 character password using every character class
func DefaultOptions() Options {
	return Options{Length: DefaultLength, Uppercase: true, Digits: true, Symbols: true}
}

// Classes returns the enabled character classes, lowercase first
func (o Options) Classes() []string {
	classes := []string{Lowercase}
	if o.Uppercase {
		classes = append(classes, Uppercase)
	}
	if o.Digits {
		classes = append(classes, Digits)
	}
	if o.Symbols {
		classes = append(classes, Symbols)
	}
	return classes
}

// Alphabet returns the characters a password with these options is drawn from
func (o Options) Alphabet() string {
	var alphabet string
	for _, c := range o.Classes() {
		alphabet += c
	}
	return alphabet
}

// GeneratePassword returns a password of opts.Length characters holding at least one
// character of every enabled class (as far as the length allows). Every draw is
// uniform; indices are rejection sampled.
func GeneratePassword(opts Options) (string, error) {
	if opts.Length <= 0 || opts.Length > MaxLength {
		return "", ErrInvalidLength
	}

	r := source()
	classes := opts.Classes()
	alphabet := opts.Alphabet()
	out := make([]byte, 0, opts.Length)

	for _, class := range classes {
		if len(out) == opts.Length {
			break
		}
		c, err := pick(r, class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < opts.Length {
		c, err := pick(r, alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates, so the guaranteed characters do not sit at the front
	for i := len(out) - 1; i > 0; i-- {
		j, err := uniform(r, i+1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func pick(r io.Reader, chars string) (byte, error) {
	i, err := uniform(r, len(chars))
	if err != nil {
		return 0, err
	}
	return chars[i], nil
}

var (
	adjectives = []string{
		"able", "amber", "brave", "calm", "clever", "crisp", "daring", "eager", "early", "fancy", "gentle", "happy",
		"ideal", "jolly", "keen", "lively", "magic", "noble", "oaken", "pearl", "quick", "ready", "solar", "tidy",
		"urban", "vivid", "warm", "young", "zesty", "bright", "candid", "dazzle", "elegant", "friendly", "glossy", "humble",
	}
	nouns = []string{
		"anchor", "beacon", "canyon", "dream", "ember", "forest", "galaxy", "harbor", "island", "jungle", "kingdom",
		"lantern", "meadow", "nebula", "ocean", "prairie", "quartz", "river", "summit", "temple", "unicorn", "valley",
		"willow", "xenon", "yonder", "zephyr", "apple", "bridge", "comet", "dragon", "feather", "garden", "horizon",
		"idol", "jade", "keeper", "legend",
	}
)

// GenerateDiceware returns wordCount adjective-noun words picked uniformly
func GenerateDiceware(wordCount int) ([]string, error) {
	if wordCount <= 0 {
		return nil, ErrInvalidWordCount
	}

	r := source()
	words := make([]string, wordCount)
	for i := range words {
		n, err := uniform(r, len(adjectives)*len(nouns))
		if err != nil {
			return nil, err
		}
		words[i] = adjectives[n/len(nouns)] + "-" + nouns[n%len(nouns)]
	}
	return words, nil
}

// uniform returns an integer in [0, n) without modulo bias
func uniform(r io.Reader, n int) (int, error) {
	if n <= 0 || n > 1<<16 {
		return 0, errors.New("index range out of bounds")
	}

	width, space := 1, 256
	if n > 256 {
		width, space = 2, 1<<16
	}
	limit := space - space%n

	var buf [2]byte
	for {
		if _, err := io.ReadFull(r, buf[:width]); err != nil {
			return 0, err
		}
		v := int(buf[0])
		if width == 2 {
			v = int(binary.BigEndian.Uint16(buf[:]))
		}
		if v < limit {
			return v % n, nil
		}
	}
}
