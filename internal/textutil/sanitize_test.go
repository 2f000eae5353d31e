package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"  notes  ":  "notes",
		"a/b\\c:d*e": "a-b-c-d-e",
		"what?\"<>|": "what",
		"":           "",
	}
	for in, want := range cases {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeStem(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"scan", "scan"},
		{"report.pdf", "report"},
		{"Report.PDF", "Report"},
		{"..hidden", "hidden"},
		{"tax/2024", "tax-2024"},
		{"line\nbreak", "linebreak"},
		{"", "scan"},
		{".pdf", "scan"},
		{"café", "café"},
	}
	for _, tc := range cases {
		if got := NormalizeStem(tc.in, "scan"); got != tc.want {
			t.Fatalf("NormalizeStem(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("Export Setup!"); got != "export_setup" {
		t.Fatalf("SanitizeToken = %q", got)
	}
	if got := SanitizeToken("  "); got != "unknown" {
		t.Fatalf("SanitizeToken(empty) = %q", got)
	}
}
