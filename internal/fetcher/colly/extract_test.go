package collyfetcher

import (
	"testing"

	"github.com/calumnguyen/seo-crawler-sub001/internal/hash/sha256"
	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

const richPage = `<!DOCTYPE html>
<html lang="en-US">
<head>
  <title>Acme Widgets</title>
  <meta name="description" content="Widgets for everyone.">
  <meta name="keywords" content="widgets, acme">
  <meta name="robots" content="index,follow">
  <link rel="canonical" href="https://acme.example/widgets">
  <meta property="og:title" content="Acme Widgets">
  <meta property="og:type" content="website">
  <meta property="og:image" content="https://acme.example/og.png">
  <script type="application/ld+json">{"@type":"Organization","name":"Acme"}</script>
</head>
<body>
  <nav>Home | Shop</nav>
  <h1>Acme Widgets</h1>
  <h2>Small widgets</h2>
  <h3>Tiny widgets</h3>
  <h2>Large widgets</h2>
  <img src="/w1.png" alt="a widget" width="100" height="80">
  <img src="/w2.png" alt="another widget">
  <p>Seven words of real page body text.</p>
  <a href="/shop">Shop now</a>
  <script>var tracking = true;</script>
</body>
</html>`

func extractPage(t *testing.T, html string) seo.PageData {
	t.Helper()
	pd := seo.PageData{
		FinalURL:    "https://acme.example/widgets",
		ContentType: "text/html; charset=utf-8",
	}
	if err := extract(&pd, []byte(html), sha256.New()); err != nil {
		t.Fatalf("extract: %v", err)
	}
	return pd
}

func TestExtractHeadingsInOrder(t *testing.T) {
	t.Parallel()

	pd := extractPage(t, richPage)
	want := []struct {
		level int
		text  string
	}{
		{1, "Acme Widgets"},
		{2, "Small widgets"},
		{3, "Tiny widgets"},
		{2, "Large widgets"},
	}
	if len(pd.Headings) != len(want) {
		t.Fatalf("headings = %+v", pd.Headings)
	}
	for i, w := range want {
		h := pd.Headings[i]
		if h.Level != w.level || h.Text != w.text || h.Position != i {
			t.Fatalf("heading %d = %+v, want %+v", i, h, w)
		}
	}
}

func TestExtractImagesAndMeta(t *testing.T) {
	t.Parallel()

	pd := extractPage(t, richPage)
	if pd.MetaKeywords != "widgets, acme" || pd.MetaRobots != "index,follow" {
		t.Fatalf("meta = %+v", pd)
	}
	if pd.CanonicalURL != "https://acme.example/widgets" {
		t.Fatalf("canonical = %q", pd.CanonicalURL)
	}
	if pd.Language != "en-US" {
		t.Fatalf("language = %q", pd.Language)
	}
	if len(pd.Images) != 2 {
		t.Fatalf("images = %+v", pd.Images)
	}
	if pd.Images[0].Width != 100 || pd.Images[0].Height != 80 {
		t.Fatalf("image dims = %+v", pd.Images[0])
	}
	if pd.Images[1].Width != 0 {
		t.Fatalf("missing dims should be zero: %+v", pd.Images[1])
	}
}

func TestExtractOgAndStructuredData(t *testing.T) {
	t.Parallel()

	pd := extractPage(t, richPage)
	if pd.OgTags == nil || pd.OgTags.Title != "Acme Widgets" || pd.OgTags.Type != "website" {
		t.Fatalf("og = %+v", pd.OgTags)
	}
	if len(pd.StructuredData) != 1 || pd.StructuredData[0] != `{"@type":"Organization","name":"Acme"}` {
		t.Fatalf("structured data = %v", pd.StructuredData)
	}
}

func TestExtractWordCountIgnoresScriptsAndChrome(t *testing.T) {
	t.Parallel()

	pd := extractPage(t, richPage)
	// Script bodies and nav chrome are stripped; headings, alt is not text.
	if pd.WordCount == 0 {
		t.Fatal("word count not computed")
	}
	if pd.WordCount > 25 {
		t.Fatalf("word count %d suggests script/nav text leaked in", pd.WordCount)
	}
}

func TestContentHashStableUnderWhitespaceAndCase(t *testing.T) {
	t.Parallel()

	a := extractPage(t, "<html><body><p>Hello   World</p></body></html>")
	b := extractPage(t, "<html><body><p>hello world</p></body></html>")
	if a.ContentHash == "" || a.ContentHash != b.ContentHash {
		t.Fatalf("hashes differ: %q vs %q", a.ContentHash, b.ContentHash)
	}

	c := extractPage(t, "<html><body><p>hello there</p></body></html>")
	if c.ContentHash == a.ContentHash {
		t.Fatal("different text must hash differently")
	}
}

func TestCompletenessWeights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		html string
		want int
	}{
		{
			name: "empty page",
			html: "<html><body><img src='/x.png'></body></html>",
			want: 0,
		},
		{
			name: "title only",
			html: "<html><head><title>T</title></head><body><img src='/x.png'></body></html>",
			want: weightTitle,
		},
		{
			name: "no images counts as full alt coverage",
			html: "<html><body>text</body></html>",
			want: weightAltText,
		},
		{
			name: "everything",
			html: richPage,
			want: 100,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pd := extractPage(t, tc.html)
			if pd.Completeness != tc.want {
				t.Fatalf("completeness = %d, want %d", pd.Completeness, tc.want)
			}
		})
	}
}

func TestExtractFragmentAndEmptyHrefsSkipped(t *testing.T) {
	t.Parallel()

	pd := extractPage(t, `<html><body>
	  <a href="#section">jump</a>
	  <a href="">empty</a>
	  <a href="mailto:x@example.com">mail</a>
	  <a href="javascript:void(0)">js</a>
	  <a href="http://%zz">broken</a>
	  <a href="/real">real</a>
	</body></html>`)
	if len(pd.Links) != 1 || pd.Links[0].Href != "https://acme.example/real" {
		t.Fatalf("links = %+v", pd.Links)
	}
}
