// Package trigger holds the phrase table and the fuzzy matcher that maps a
// transcript onto it.
//
// Matching is edit-distance based. A phrase is scored against the whole
// normalised transcript and against every run of consecutive transcript
// words whose length is within one word of the phrase, so a trigger buried in
// a longer utterance ("please open browzer now") still scores as if it had
// been spoken alone. The best-scoring phrase wins if it reaches the
// threshold; ties go to the phrase listed first in the table.
//
// [Matcher.Match] is stateless. [Matcher.Accept] adds the per-phrase cooldown
// used by the live pipeline so one long utterance cannot fire a trigger
// twice.
package trigger

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	// DefaultThreshold is the minimum score for a match.
	DefaultThreshold = 0.8

	// DefaultMinChars is the shortest normalised transcript considered.
	DefaultMinChars = 3

	// DefaultCooldown is how long a phrase stays suppressed after it fires.
	DefaultCooldown = 4 * time.Second
)

// Match is a phrase selected for a transcript.
type Match struct {
	Phrase  string
	Command string

	// Score is the similarity in [0, 1].
	Score float64
}

// Outcome classifies the result of [Matcher.Accept].
type Outcome int

const (
	// OutcomeNoMatch means no phrase reached the threshold.
	OutcomeNoMatch Outcome = iota

	// OutcomeMatched means a phrase matched and should be dispatched.
	OutcomeMatched

	// OutcomeSuppressed means a phrase matched inside its cooldown window.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeMatched:
		return "matched"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Config tunes a [Matcher]. Zero values take the package defaults, except
// RequireAllTokens and Phonetic which are off unless set.
type Config struct {
	Threshold float64
	MinChars  int

	// Cooldown suppresses a phrase after it fires. Negative disables it.
	Cooldown time.Duration

	// RequireAllTokens rejects a multi-word phrase unless every one of its
	// words occurs in the transcript.
	RequireAllTokens bool

	// Phonetic lets RequireAllTokens accept words that sound alike under
	// Double Metaphone ("browser" and "browzer").
	Phonetic bool
}

// Option configures a [Matcher].
type Option func(*Matcher)

// WithClock replaces time.Now for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// Matcher scores transcripts against a [Table]. It is safe for concurrent
// use.
type Matcher struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	fired map[string]time.Time
}

// NewMatcher returns a Matcher for cfg.
func NewMatcher(cfg Config, opts ...Option) *Matcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	m := &Matcher{
		cfg:   cfg,
		now:   time.Now,
		fired: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Matcher) Config() Config { return m.cfg }

// Best returns the highest-scoring eligible phrase regardless of threshold.
// ok is false when the transcript is too short or no phrase is eligible.
func (m *Matcher) Best(transcript string, table *Table) (best Match, ok bool) {
	text := Normalize(transcript)
	if utf8.RuneCountInString(text) < m.cfg.MinChars {
		return Match{}, false
	}
	words := strings.Fields(text)

	best.Score = -1
	for _, e := range table.Entries() {
		if m.cfg.RequireAllTokens && len(e.tokens) > 1 && !m.containsAll(words, e.tokens) {
			continue
		}
		if s := phraseScore(text, words, e); s > best.Score {
			best = Match{Phrase: e.Phrase, Command: e.Command, Score: s}
		}
	}
	if best.Score < 0 {
		return Match{}, false
	}
	return best, true
}

// Match returns the best phrase for transcript if its score reaches
// threshold. A threshold of zero or less uses the configured one.
func (m *Matcher) Match(transcript string, table *Table, threshold float64) (Match, bool) {
	if threshold <= 0 {
		threshold = m.cfg.Threshold
	}
	best, ok := m.Best(transcript, table)
	if !ok || best.Score < threshold {
		return best, false
	}
	return best, true
}

// Accept matches transcript against table at the configured threshold and
// applies the per-phrase cooldown. A matched phrase is recorded as fired; a
// phrase still cooling down is reported as suppressed and not recorded.
func (m *Matcher) Accept(transcript string, table *Table) (Match, Outcome) {
	match, ok := m.Match(transcript, table, m.cfg.Threshold)
	if !ok {
		return match, OutcomeNoMatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if last, seen := m.fired[match.Phrase]; seen && now.Sub(last) < m.cfg.Cooldown {
		return match, OutcomeSuppressed
	}
	m.fired[match.Phrase] = now
	return match, OutcomeMatched
}

// ResetCooldowns forgets every fired phrase.
func (m *Matcher) ResetCooldowns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.fired)
}

func (m *Matcher) containsAll(words, phrase []string) bool {
	for _, p := range phrase {
		found := false
		for _, w := range words {
			if w == p || (m.cfg.Phonetic && soundsAlike(w, p)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// phraseScore is the best similarity of e against the full text or any
// window of len(e.tokens)-1 .. len(e.tokens)+1 consecutive words.
func phraseScore(text string, words []string, e Entry) float64 {
	best := similarity(text, e.Phrase)
	n := len(e.tokens)
	for size := max(1, n-1); size <= n+1; size++ {
		for i := 0; i+size <= len(words); i++ {
			if s := similarity(strings.Join(words[i:i+size], " "), e.Phrase); s > best {
				best = s
			}
		}
	}
	return best
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
