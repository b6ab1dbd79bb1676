package match

// Fuzzy accepts a phrase when some window of the transcript is within
// MaxDistance edits of it. Phrases too short to absorb that many edits are
// matched exactly.
type Fuzzy struct {
	MaxDistance int
}

func (f Fuzzy) Matches(transcript, phrase string) bool {
	t, p := []rune(transcript), []rune(phrase)
	if len(p) == 0 {
		return false
	}

	limit := f.MaxDistance
	if limit < 0 {
		limit = 0
	}
	if len(p) <= 2*limit {
		limit = (len(p) - 1) / 2
	}

	for width := len(p) - limit; width <= len(p)+limit; width++ {
		if width <= 0 || width > len(t) {
			continue
		}
		for start := 0; start+width <= len(t); start++ {
			if levenshtein(t[start:start+width], p) <= limit {
				return true
			}
		}
	}
	return false
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
