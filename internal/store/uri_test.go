package store

import "testing"

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"https://example.com/docs?q=1": "https___example_com_docs_q_1",
		"plain":                        "plain",
		"UPPER123":                     "UPPER123",
		"a b\tc":                       "a_b_c",
		"":                             "",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryURI(t *testing.T) {
	got := MemoryURI(TierCleaned, "https://example.com", 1700000000000001)
	want := "memory://cleaned/https___example_com_1700000000000001"
	if got != want {
		t.Errorf("MemoryURI = %q, want %q", got, want)
	}
}

func TestFileURI(t *testing.T) {
	got := FileURI("/data/resources/", TierRaw, "https://example.com", 42)
	want := "file:///data/resources/raw/https___example_com_42.md"
	if got != want {
		t.Errorf("FileURI = %q, want %q", got, want)
	}
	if p := FilePath("/data/resources", TierRaw, "https://example.com", 42); "file://"+p != got {
		t.Errorf("FilePath %q does not match URI %q", p, got)
	}
}
