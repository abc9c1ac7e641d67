package forge

import "testing"

func TestParseRepoID(t *testing.T) {
	cases := []struct {
		in    string
		owner string
		name  string
		ok    bool
	}{
		{"acme/widgets", "acme", "widgets", true},
		{" acme/widgets ", "acme", "widgets", true},
		{"acme/widgets.go", "acme", "widgets.go", true},
		{"a-b/c_d", "a-b", "c_d", true},
		{"acme", "", "", false},
		{"acme/widgets/extra", "", "", false},
		{"-acme/widgets", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		id, err := ParseRepoID(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseRepoID(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && (id.Owner != tc.owner || id.Name != tc.name) {
			t.Errorf("ParseRepoID(%q) = %v", tc.in, id)
		}
	}
}

func TestParseIssueURL(t *testing.T) {
	id, n, err := ParseIssueURL("https://github.com/acme/widgets/issues/42")
	if err != nil {
		t.Fatal(err)
	}
	if id.String() != "acme/widgets" || n != 42 {
		t.Fatalf("got %v #%d", id, n)
	}

	bad := []string{
		"https://github.com/acme/widgets/pull/42",
		"https://gitlab.com/acme/widgets/issues/42",
		"https://github.com/acme/widgets/issues/0",
		"github.com/acme/widgets/issues/42",
		"",
	}
	for _, in := range bad {
		if _, _, err := ParseIssueURL(in); err == nil {
			t.Errorf("ParseIssueURL(%q) accepted malformed input", in)
		}
	}
}

func TestCommentMaintainer(t *testing.T) {
	for _, assoc := range []string{"OWNER", "MEMBER", "COLLABORATOR"} {
		if !(Comment{AuthorAssociation: assoc}).Maintainer() {
			t.Errorf("%s not treated as maintainer", assoc)
		}
	}
	for _, assoc := range []string{"CONTRIBUTOR", "NONE", ""} {
		if (Comment{AuthorAssociation: assoc}).Maintainer() {
			t.Errorf("%s treated as maintainer", assoc)
		}
	}
}
