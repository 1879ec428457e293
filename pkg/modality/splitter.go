package modality

// Window is one slice of a split text with its character offsets.
type Window struct {
	Text  string
	Start int
	End   int
}

// SplitText slices text into windows of at most window characters with the
// given overlap between consecutive windows. Offsets are rune-based so they
// line up with what was actually sliced.
func SplitText(text string, window, overlap int) []Window {
	if window <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	var out []Window
	step := window - overlap
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, Window{Text: string(runes[start:end]), Start: start, End: end})
		if end == len(runes) {
			break
		}
	}
	return out
}
