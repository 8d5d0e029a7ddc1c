package snippets

import (
	"strings"
	"testing"
)

func TestGenerate_AllFrameworks(t *testing.T) {
	cfg := Config{Subject: "123-main", Variants: []string{"A", "B"}, ServerURL: "https://op.example.com/"}

	for _, fw := range Frameworks {
		files, err := Generate(fw, cfg)
		if err != nil {
			t.Fatalf("Generate(%s) error: %v", fw, err)
		}
		if len(files) == 0 {
			t.Fatalf("Generate(%s) returned no files", fw)
		}

		all := ""
		for _, f := range files {
			all += f.Content
		}
		if !strings.Contains(all, "https://op.example.com/ot.js") {
			t.Errorf("%s: missing script URL in\n%s", fw, all)
		}
		if strings.Contains(all, "op.example.com//") {
			t.Errorf("%s: trailing slash not trimmed", fw)
		}
		if !strings.Contains(all, `["A","B"]`) {
			t.Errorf("%s: missing variants JSON", fw)
		}
	}
}

func TestGenerate_HTML(t *testing.T) {
	files, err := Generate(FrameworkHTML, Config{Subject: "123-main", ServerURL: "http://localhost:8080"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Filename != "index.html" {
		t.Fatalf("got %+v, want one index.html", files)
	}

	want := []string{
		`<script src="http://localhost:8080/ot.js" defer></script>`,
		`data-op-subject="123-main"`,
		`data-op-view="view_offer"`,
		`data-op-click`,
	}
	for _, w := range want {
		if !strings.Contains(files[0].Content, w) {
			t.Errorf("missing %s in\n%s", w, files[0].Content)
		}
	}
}

func TestGenerate_UnknownFramework(t *testing.T) {
	if _, err := Generate("cobol", Config{}); err == nil {
		t.Error("expected error for unknown framework")
	}
}
