package listings

import "testing"

func TestQueryMatch(t *testing.T) {
	fields := []string{"Dana Donor", "Like New", "women", "Women", "winterwear", "Winter Wear"}

	tests := []struct {
		query string
		want  bool
	}{
		{"", true},
		{"  ", true},
		{"like new", true},
		{"WOMEN", true},
		{"winter", true},
		{"wintr", true},
		{"wimtr", false},
		{"sweeter", false},
		{"donnor", true},
		{"dana winter", true},
		{"dana shoes", false},
		{"kids", false},
		{"!!", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := ParseQuery(tt.query).Match(fields...); got != tt.want {
				t.Fatalf("Match(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestShortWordsNeedExactPrefix(t *testing.T) {
	if ParseQuery("men").Match("man") {
		t.Fatalf("short words must not be fuzzy")
	}
	if !ParseQuery("jeens").Match("jeans") {
		t.Fatalf("five letter word should tolerate one typo")
	}
}
