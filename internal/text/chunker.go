package text

import (
	"fmt"
	"unicode"

	"paperqa/internal/apperr"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunk is a window of a source document. Offset is measured in runes.
type Chunk struct {
	Text     string `json:"text"`
	DocID    string `json:"doc_id,omitempty"`
	Position int    `json:"position"`
	Offset   int    `json:"offset"`
}

// Split cuts text into windows of at most size runes. Window ends are pulled
// back to the nearest paragraph, line, sentence or word boundary found in the
// latter part of the window. The next window starts at the first word start
// at or after overlap runes before the previous end, so the shared text is
// at most overlap runes and can be shorter; when no word starts in that span
// it begins exactly overlap runes back. Every chunk is an exact substring of
// text, so no content is lost between windows.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, apperr.Validation(fmt.Sprintf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.Validation(fmt.Sprintf("chunk overlap must be in [0, %d), got %d", size, overlap))
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return []Chunk{}, nil
	}
	if n <= size {
		return []Chunk{{Text: text, Position: 0, Offset: 0}}, nil
	}

	chunks := make([]Chunk, 0, n/(size-overlap)+1)
	start := 0
	for {
		end := start + size
		if end >= n {
			end = n
		} else {
			// Never cut so early that the next window would not advance.
			lo := start + size/2
			if floor := start + overlap + 1; floor > lo {
				lo = floor
			}
			end = cutPoint(runes, lo, end)
		}

		chunks = append(chunks, Chunk{
			Text:     string(runes[start:end]),
			Position: len(chunks),
			Offset:   start,
		})
		if end == n {
			break
		}
		start = wordStart(runes, end-overlap, end)
	}
	return chunks, nil
}

// cutPoint returns the best exclusive end in (lo, hi], falling back to hi.
func cutPoint(runes []rune, lo, hi int) int {
	if lo >= hi {
		return hi
	}
	for _, accept := range boundaries {
		for p := hi; p > lo; p-- {
			if accept(runes, p) {
				return p
			}
		}
	}
	return hi
}

var boundaries = []func(r []rune, p int) bool{
	// paragraph
	func(r []rune, p int) bool { return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n' },
	// line
	func(r []rune, p int) bool { return r[p-1] == '\n' },
	// sentence
	func(r []rune, p int) bool {
		return p >= 2 && unicode.IsSpace(r[p-1]) && (r[p-2] == '.' || r[p-2] == '!' || r[p-2] == '?')
	},
	// word
	func(r []rune, p int) bool { return unicode.IsSpace(r[p-1]) },
}

// wordStart returns the first word start in [from, limit), or from when
// there is none.
func wordStart(runes []rune, from, limit int) int {
	for q := from; q < limit; q++ {
		if q == 0 || (unicode.IsSpace(runes[q-1]) && !unicode.IsSpace(runes[q])) {
			return q
		}
	}
	return from
}
