package trigger_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxtrigger/internal/trigger"
)

func mustTable(t *testing.T, pairs ...trigger.Pair) *trigger.Table {
	t.Helper()
	tbl, err := trigger.NewTable(pairs)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestMatch_PhraseInsideLongerUtterance(t *testing.T) {
	tbl := mustTable(t,
		trigger.Pair{Phrase: "open browser", Command: "cmd1"},
		trigger.Pair{Phrase: "say hello", Command: "cmd2"},
	)
	m := trigger.NewMatcher(trigger.Config{})

	got, ok := m.Match("please open browzer now", tbl, 0.8)
	if !ok {
		t.Fatalf("no match, best = %+v", got)
	}
	if got.Phrase != "open browser" || got.Command != "cmd1" {
		t.Errorf("matched %q -> %q, want open browser -> cmd1", got.Phrase, got.Command)
	}
	if got.Score < 0.9 || got.Score > 1 {
		t.Errorf("Score = %v, want about 0.92", got.Score)
	}
}

func TestMatch_BelowThreshold(t *testing.T) {
	tbl := mustTable(t, trigger.Pair{Phrase: "abxy", Command: "cmd"})
	m := trigger.NewMatcher(trigger.Config{})

	best, ok := m.Best("abcd", tbl)
	if !ok || best.Score != 0.5 {
		t.Fatalf("Best = %+v, %v; want score 0.5", best, ok)
	}
	if _, ok := m.Match("abcd", tbl, 0.8); ok {
		t.Error("matched below threshold")
	}
}

func TestMatch_TieGoesToFirstEntry(t *testing.T) {
	tbl := mustTable(t,
		trigger.Pair{Phrase: "say hello", Command: "first"},
		trigger.Pair{Phrase: "say hallo", Command: "second"},
	)
	m := trigger.NewMatcher(trigger.Config{})
	got, ok := m.Match("say hullo", tbl, 0.8)
	if !ok || got.Command != "first" {
		t.Errorf("got %+v, %v; want first", got, ok)
	}
}

func TestMatch_MinChars(t *testing.T) {
	tbl := mustTable(t, trigger.Pair{Phrase: "go", Command: "cmd"})
	m := trigger.NewMatcher(trigger.Config{})
	if _, ok := m.Match("go!", tbl, 0.5); ok {
		t.Error("two-character transcript matched")
	}
	if _, ok := m.Best("", tbl); ok {
		t.Error("empty transcript produced a best match")
	}
}

func TestMatch_EmptyTable(t *testing.T) {
	m := trigger.NewMatcher(trigger.Config{})
	if _, ok := m.Match("open browser", mustTable(t), 0.8); ok {
		t.Error("empty table matched")
	}
}

func TestMatch_RequireAllTokens(t *testing.T) {
	tbl := mustTable(t, trigger.Pair{Phrase: "call smith", Command: "dial"})

	strict := trigger.NewMatcher(trigger.Config{RequireAllTokens: true})
	if _, ok := strict.Match("call smyth please", tbl, 0.8); ok {
		t.Error("strict token gate accepted a misspelt word")
	}

	phonetic := trigger.NewMatcher(trigger.Config{RequireAllTokens: true, Phonetic: true})
	if got, ok := phonetic.Match("call smyth please", tbl, 0.8); !ok || got.Command != "dial" {
		t.Errorf("phonetic gate: got %+v, %v", got, ok)
	}

	if _, ok := phonetic.Match("please call", tbl, 0.5); ok {
		t.Error("token gate accepted a transcript missing a word")
	}
}

func TestAccept_Cooldown(t *testing.T) {
	tbl := trigger.DefaultTable()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := trigger.NewMatcher(trigger.Config{}, trigger.WithClock(func() time.Time { return now }))

	if _, out := m.Accept("say hello", tbl); out != trigger.OutcomeMatched {
		t.Fatalf("first Accept = %v, want matched", out)
	}
	now = now.Add(2 * time.Second)
	if _, out := m.Accept("say hello", tbl); out != trigger.OutcomeSuppressed {
		t.Errorf("Accept within cooldown = %v, want suppressed", out)
	}
	// Other phrases have their own cooldown.
	if _, out := m.Accept("open browser", tbl); out != trigger.OutcomeMatched {
		t.Errorf("Accept other phrase = %v, want matched", out)
	}
	// Suppressed hits do not extend the window.
	now = now.Add(2 * time.Second)
	if _, out := m.Accept("say hello", tbl); out != trigger.OutcomeMatched {
		t.Errorf("Accept after cooldown = %v, want matched", out)
	}
	if _, out := m.Accept("completely unrelated words", tbl); out != trigger.OutcomeNoMatch {
		t.Errorf("Accept unrelated = %v, want no_match", out)
	}

	m.ResetCooldowns()
	if _, out := m.Accept("say hello", tbl); out != trigger.OutcomeMatched {
		t.Errorf("Accept after reset = %v, want matched", out)
	}
}

func TestAccept_NegativeCooldownDisables(t *testing.T) {
	m := trigger.NewMatcher(trigger.Config{Cooldown: -1})
	tbl := trigger.DefaultTable()
	for i := range 3 {
		if _, out := m.Accept("say hello", tbl); out != trigger.OutcomeMatched {
			t.Fatalf("Accept %d = %v, want matched", i, out)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	if trigger.OutcomeSuppressed.String() != "suppressed" {
		t.Errorf("String = %q", trigger.OutcomeSuppressed.String())
	}
}
