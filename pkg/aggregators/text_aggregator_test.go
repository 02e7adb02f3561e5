package aggregators

import "testing"

func TestTextAggregatorSplitsSentences(t *testing.T) {
	a := NewTextAggregator(AggregatorConfig{})
	var got []string
	for _, tok := range []string{"Ok.", " One", " burger", " coming", " up!", " Anything", " else"} {
		if s, ok := a.Add(tok); ok {
			got = append(got, s)
		}
	}
	if len(got) != 1 || got[0] != "Ok. One burger coming up!" {
		t.Fatalf("unexpected sentences %q", got)
	}
	if rest := a.Flush(); rest != "Anything else" {
		t.Fatalf("unexpected flush %q", rest)
	}
	if a.Flush() != "" {
		t.Fatalf("second flush should be empty")
	}
}

func TestTextAggregatorMaxTokens(t *testing.T) {
	a := NewTextAggregator(AggregatorConfig{MaxTokens: 3, MinLen: 1})
	a.Add("a")
	a.Add(" b")
	s, ok := a.Add(" c")
	if !ok || s != "a b c" {
		t.Fatalf("expected forced flush, got %q %v", s, ok)
	}
}

func TestTextAggregatorLineBreakEndsUtterance(t *testing.T) {
	a := NewTextAggregator(AggregatorConfig{})
	if _, ok := a.Add("Your total is"); ok {
		t.Fatalf("no boundary yet")
	}
	s, ok := a.Add(" nine dollars\n")
	if !ok || s != "Your total is nine dollars" {
		t.Fatalf("expected line break to end the utterance, got %q %v", s, ok)
	}
	if _, ok := a.Add("\n"); ok {
		t.Fatalf("a bare line break is not an utterance")
	}
}

func TestEOSDetected(t *testing.T) {
	cases := map[string]bool{
		"Sure.":            true,
		"Really?":          true,
		"line\n":           true,
		"line\n  ":         true,
		"  \n":             false,
		"Hmm...":           false,
		"Let me think...":  true,
		"no boundary here": false,
		"":                 false,
	}
	for in, want := range cases {
		if got := eosDetected(in); got != want {
			t.Fatalf("eosDetected(%q) = %v, want %v", in, got, want)
		}
	}
}
