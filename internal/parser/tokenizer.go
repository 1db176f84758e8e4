// Package parser turns uploaded delimited text into numeric data and loads
// the dashboard's display catalog.
package parser

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/machine-monitor/backend/internal/models"
)

// Spreadsheet "CSV UTF-8" exports start with a byte order mark.
const byteOrderMark = "\ufeff"

// Matrix holds parsed values row by row, in file order.
// Rows that contained no numeric tokens are not present.
type Matrix [][]float64

// Len returns the total number of values.
func (m Matrix) Len() int {
	n := 0
	for _, row := range m {
		n += len(row)
	}
	return n
}

// Width returns the length of the widest row.
func (m Matrix) Width() int {
	w := 0
	for _, row := range m {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// Flatten concatenates all rows in order.
func (m Matrix) Flatten() []float64 {
	out := make([]float64, 0, m.Len())
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

// Tokenize splits text into lines and each line into tokens on the literal
// delimiter. Tokens are trimmed and parsed as float64; anything that does not
// parse to a finite number is dropped silently. An empty delimiter means ",".
func Tokenize(text, delimiter string) Matrix {
	if delimiter == "" {
		delimiter = models.DefaultDelimiter
	}
	text = strings.TrimPrefix(text, byteOrderMark)

	lines := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	m := make(Matrix, 0, len(lines))
	for _, line := range lines {
		var row []float64
		for _, tok := range strings.Split(line, delimiter) {
			if v, ok := parseValue(tok); ok {
				row = append(row, v)
			}
		}
		if len(row) > 0 {
			m = append(m, row)
		}
	}
	return m
}

// ReadInput reads r to the end and tokenizes its content.
func ReadInput(r io.Reader, delimiter string) (Matrix, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return Tokenize(string(data), delimiter), nil
}

func parseValue(tok string) (float64, bool) {
	tok = strings.TrimFunc(tok, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
