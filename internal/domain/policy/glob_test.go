package policy

import "testing"

func TestGlobToRegexSource(t *testing.T) {
	cases := []struct {
		glob string
		want string
	}{
		{"foo_{bar,foo}.*", `foo_(bar|foo)\.[^:]*`},
		{`foo_ba?.\*`, `foo_ba[^:]\.\*`},
	}
	for _, c := range cases {
		if got := globToRegexSource(c.glob); got != c.want {
			t.Errorf("globToRegexSource(%q) = %q, want %q", c.glob, got, c.want)
		}
	}
}

func TestCompileGlobStar(t *testing.T) {
	re, err := CompileGlob("*")
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("anything") {
		t.Error("standalone * should match a non-empty string")
	}
	if re.MatchString("") {
		t.Error("standalone * should reject the empty string")
	}
}

func TestCompileGlobSuffix(t *testing.T) {
	re, err := CompileGlob("*Action")
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("FooAction") {
		t.Error("expected match for FooAction")
	}
	if re.MatchString("FooBar") {
		t.Error("expected no match for FooBar")
	}
}

func TestCompileGlobQuestionMark(t *testing.T) {
	re, err := CompileGlob("Foo?ar")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"FooBar", "FooDar", "FooFar"} {
		if !re.MatchString(s) {
			t.Errorf("expected match for %q", s)
		}
	}
	if re.MatchString("FooAction") {
		t.Error("expected no match for FooAction")
	}
}

func TestCompileGlobCrossSegment(t *testing.T) {
	re, err := CompileGlob("core:**")
	if err != nil {
		t.Fatal(err)
	}
	if !re.MatchString("core:a:b:c") {
		t.Error("expected :** to match across colon segments")
	}
}

func TestCompileGlobIdempotent(t *testing.T) {
	const glob = "foo_{bar,foo}.*"
	a, err := CompileGlob(glob)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CompileGlob(glob)
	if err != nil {
		t.Fatal(err)
	}
	samples := []string{"foo_bar.anything", "foo_foo.x", "foo_baz.x", ""}
	for _, s := range samples {
		if a.MatchString(s) != b.MatchString(s) {
			t.Errorf("repeated compile diverged on %q", s)
		}
	}
}
