package whisper

import "strings"

// isSpecialToken reports control tokens like [_BEG_] or [_TT_150] that carry
// no speech content.
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}

func meanProbability(p []float32) float64 {
	if len(p) == 0 {
		return 0
	}
	var sum float64
	for _, v := range p {
		sum += float64(v)
	}
	return sum / float64(len(p))
}
