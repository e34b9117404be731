package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Release Notes</title><script>tracker()</script></head>
<body>
<nav>Home | About</nav>
<main>
<h1>Version 2.0</h1>
<p>This release fixes the  parser.</p>
<ul><li>faster startup</li><li>fewer crashes</li></ul>
</main>
<footer>Copyright</footer>
</body>
</html>`

func TestExtractReadable(t *testing.T) {
	title, text := extractReadable(samplePage)
	if title != "Release Notes" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Version 2.0", "fixes the parser", "faster startup"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	for _, banned := range []string{"tracker()", "Home | About", "Copyright"} {
		if strings.Contains(text, banned) {
			t.Errorf("boilerplate %q survived extraction:\n%s", banned, text)
		}
	}
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	page, err := New(Options{}).Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Release Notes" {
		t.Errorf("title = %q", page.Title)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("status = %d", page.StatusCode)
	}
	if !strings.Contains(page.Text, "Version 2.0") {
		t.Errorf("text = %q", page.Text)
	}
}

func TestFetchPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("just words"))
	}))
	defer srv.Close()

	page, err := New(Options{}).Fetch(context.Background(), srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if page.Text != "just words" {
		t.Errorf("text = %q", page.Text)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := New(Options{}).Fetch(context.Background(), srv.URL, 0); err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetchTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer srv.Close()

	page, err := New(Options{}).Fetch(context.Background(), srv.URL, 100)
	if err != nil {
		t.Fatal(err)
	}
	if !page.Truncated {
		t.Error("expected truncation flag")
	}
	if len(page.Text) != 100 {
		t.Errorf("len = %d, want 100", len(page.Text))
	}
}

func TestFetchRequiresURL(t *testing.T) {
	if _, err := New(Options{}).Fetch(context.Background(), "  ", 0); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestTruncateRunesRespectsBoundaries(t *testing.T) {
	s := "héllo wörld"
	got := truncateRunes(s, 4)
	if got != "héll" {
		t.Errorf("got %q", got)
	}
	if truncateRunes(s, 100) != s {
		t.Error("short strings must pass through unchanged")
	}
}

func TestToolHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	handler := ToolHandler(New(Options{}))
	out, err := handler(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Title: Release Notes") {
		t.Errorf("missing title header:\n%s", out)
	}
	if !strings.Contains(out, "Version 2.0") {
		t.Errorf("missing body:\n%s", out)
	}
}

func TestToolHandlerMissingURL(t *testing.T) {
	handler := ToolHandler(New(Options{}))
	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing url")
	}
}
