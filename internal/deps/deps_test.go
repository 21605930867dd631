package deps

import "testing"

func TestParseGitURL(t *testing.T) {
	cases := []struct {
		in          string
		cleanURL    string
		branch      string
		commitOrTag string
	}{
		{"https://github.com/a/b", "https://github.com/a/b.git", "", ""},
		{"https://github.com/a/b.git", "https://github.com/a/b.git", "", ""},
		{"https://github.com/a/b@main", "https://github.com/a/b.git", "main", ""},
		{"https://github.com/a/b#12345abc", "https://github.com/a/b.git", "", "12345abc"},
		{"https://github.com/a/b@feature-branch#0.1.0", "https://github.com/a/b.git", "feature-branch", "0.1.0"},
	}
	for _, tc := range cases {
		got := parseGitURL(tc.in)
		if got.cleanURL != tc.cleanURL || got.branch != tc.branch || got.commitOrTag != tc.commitOrTag {
			t.Errorf("parseGitURL(%q) = %+v, want {%s %s %s}", tc.in, got, tc.cleanURL, tc.branch, tc.commitOrTag)
		}
	}
}

func TestCloneRepoEmptyReference(t *testing.T) {
	if err := cloneRepo("", t.TempDir()); err != errEmptyRepo {
		t.Errorf("cloneRepo(\"\") error = %v, want errEmptyRepo", err)
	}
}
