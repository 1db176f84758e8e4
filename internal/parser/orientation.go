package parser

// Transpose swaps rows and columns. Ragged rows are read as if missing
// cells were absent, so column c holds row[c] of every row long enough
// to have one.
func Transpose(m Matrix) Matrix {
	width := m.Width()
	out := make(Matrix, 0, width)
	for c := 0; c < width; c++ {
		col := make([]float64, 0, len(m))
		for _, row := range m {
			if c < len(row) {
				col = append(col, row[c])
			}
		}
		out = append(out, col)
	}
	return out
}

// ApplyOrientation flattens m for submission. When transposed is set the
// values are read column by column instead of row by row. The number of
// values never changes.
func ApplyOrientation(m Matrix, transposed bool) []float64 {
	if !transposed {
		return m.Flatten()
	}
	return Transpose(m).Flatten()
}
