package ingest

// Piece is a chunk candidate before persistence. Start and End are rune
// offsets into the extracted text.
type Piece struct {
	Index   int
	Content string
	Start   int
	End     int
}

// Split slices text into overlapping windows: each window holds up to size
// runes and the next one starts size-overlap runes later. The final piece may
// be shorter than size. Empty input yields no pieces; the caller treats that
// as an extraction failure upstream.
func Split(text string, size, overlap int) []Piece {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	pieces := make([]Piece, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, Piece{
			Index:   len(pieces),
			Content: string(runes[start:end]),
			Start:   start,
			End:     end,
		})
		if end == len(runes) {
			break
		}
	}
	return pieces
}
