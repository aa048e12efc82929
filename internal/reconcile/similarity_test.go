package reconcile

import "testing"

func TestNormalizePartNumber(t *testing.T) {
	tests := []struct{ in, want string }{
		{"mtu-396-0070", "MTU3960070"},
		{"MTU 396 0070", "MTU3960070"},
		{"MTU.396/0070", "MTU3960070"},
		{"rac900fg", "RAC900FG"},
		{"", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := NormalizePartNumber(tt.in); got != tt.want {
			t.Errorf("NormalizePartNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePartNumberIdempotent(t *testing.T) {
	for _, in := range []string{"mtu-396-0070", "RAC 900 FG", "jd/re504836"} {
		once := NormalizePartNumber(in)
		if twice := NormalizePartNumber(once); once != twice {
			t.Errorf("not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"RAC900FG", "RAC900FG", 100},
		{"", "", 100},
		{"RAC900FG", "", 0},
		{"", "RAC900FG", 0},
		{"RAC900FG", "RAC900FH", 87}, // one substitution over eight runes
		{"RAC900FG", "RAC900", 75},   // two deletions
		{"ABCD", "WXYZ", 0},
	}
	for _, tt := range tests {
		if got := Ratio(tt.a, tt.b); got != tt.want {
			t.Errorf("Ratio(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTokenSortRatioIgnoresWordOrder(t *testing.T) {
	if got := TokenSortRatio("primary oil filter", "Oil Filter Primary"); got != 100 {
		t.Errorf("reordered tokens should score 100, got %d", got)
	}
	if got := TokenSortRatio("fuel filter", "oil filter"); got == 100 {
		t.Error("different tokens must not score 100")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
		{"", "abc", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
