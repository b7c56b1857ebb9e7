package stt

import (
	"regexp"
	"strings"
)

// annotation matches non-speech markers such as [BLANK_AUDIO], [Music],
// (laughs) or *coughs*.
var annotation = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// JoinSegments concatenates segment texts, drops non-speech annotations and
// collapses whitespace. Consecutive duplicate segments, a common whisper
// hallucination on short clips, are kept only once.
func JoinSegments(segments []string) string {
	var parts []string
	var prev string
	for _, s := range segments {
		s = strings.TrimSpace(annotation.ReplaceAllString(s, " "))
		if s == "" || s == prev {
			continue
		}
		parts = append(parts, s)
		prev = s
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
