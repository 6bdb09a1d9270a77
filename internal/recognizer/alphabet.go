package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Default alphabet of the global plate models.
const (
	DefaultAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_"
	DefaultPadChar  = '_'
)

// Alphabet is the ordered symbol set of a fixed-slot recognizer. Index i of
// the model's class dimension maps to symbol i.
type Alphabet struct {
	symbols  []rune
	index    map[rune]int
	pad      rune
	padIndex int
}

// NewAlphabet builds an alphabet from chars, one symbol per rune after NFC
// normalisation. pad must be one of the symbols.
func NewAlphabet(chars string, pad rune) (*Alphabet, error) {
	chars = norm.NFC.String(chars)
	if !utf8.ValidString(chars) {
		return nil, errors.New("alphabet is not valid UTF-8")
	}
	symbols := []rune(chars)
	if len(symbols) == 0 {
		return nil, errors.New("alphabet cannot be empty")
	}

	index := make(map[rune]int, len(symbols))
	for i, r := range symbols {
		if _, dup := index[r]; dup {
			return nil, fmt.Errorf("duplicate symbol %q at position %d", r, i)
		}
		index[r] = i
	}

	padIndex, ok := index[pad]
	if !ok {
		return nil, fmt.Errorf("pad symbol %q is not in the alphabet", pad)
	}
	return &Alphabet{symbols: symbols, index: index, pad: pad, padIndex: padIndex}, nil
}

// LoadAlphabet reads an alphabet file. The file holds either one symbol per
// line or the whole alphabet on a single line. A UTF-8 BOM is removed.
func LoadAlphabet(path string, pad rune) (*Alphabet, error) {
	if path == "" {
		return nil, errors.New("alphabet path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: Opening user-provided alphabet file is expected
	if err != nil {
		return nil, fmt.Errorf("failed to open alphabet: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(lines) == 0 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		line = strings.TrimRight(line, "\r\n\t ")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading alphabet: %w", err)
	}

	switch len(lines) {
	case 0:
		return nil, fmt.Errorf("alphabet is empty: %s", path)
	case 1:
		return NewAlphabet(lines[0], pad)
	}

	var b strings.Builder
	for i, line := range lines {
		line = norm.NFC.String(line)
		if utf8.RuneCountInString(line) != 1 {
			return nil, fmt.Errorf("alphabet %s line %d: expected one symbol, got %q", path, i+1, line)
		}
		b.WriteString(line)
	}
	return NewAlphabet(b.String(), pad)
}

// Size returns the number of symbols.
func (a *Alphabet) Size() int { return len(a.symbols) }

// Pad returns the padding symbol.
func (a *Alphabet) Pad() rune { return a.pad }

// PadIndex returns the class index of the padding symbol.
func (a *Alphabet) PadIndex() int { return a.padIndex }

// Symbol returns the symbol at class index i.
func (a *Alphabet) Symbol(i int) rune { return a.symbols[i] }

// Index returns the class index of r.
func (a *Alphabet) Index(r rune) (int, bool) {
	i, ok := a.index[r]
	return i, ok
}

// Symbols returns a copy of the symbol list.
func (a *Alphabet) Symbols() []rune { return append([]rune(nil), a.symbols...) }

func (a *Alphabet) String() string { return string(a.symbols) }
