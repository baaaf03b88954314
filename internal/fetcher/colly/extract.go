package collyfetcher

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// extract parses the HTML body into pd. The fetch-level fields (URL,
// FinalURL, StatusCode, RedirectChain, Duration) must already be set; link
// hrefs are resolved against FinalURL so relative links on a redirected
// page point where the browser would go.
func extract(pd *seo.PageData, body []byte, hasher TextHasher) error {
	utf8body, err := decodeToUTF8(body, pd.ContentType)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	pd.Title = strings.TrimSpace(doc.Find("title").First().Text())
	pd.MetaDescription = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	pd.MetaKeywords = strings.TrimSpace(doc.Find(`meta[name="keywords"]`).AttrOr("content", ""))
	pd.MetaRobots = strings.TrimSpace(doc.Find(`meta[name="robots"]`).AttrOr("content", ""))
	pd.CanonicalURL = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).AttrOr("href", ""))
	pd.Language = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))

	pd.Headings = extractHeadings(doc)
	pd.Images = extractImages(doc)
	pd.Links = extractLinks(doc, pd.FinalURL)
	pd.OgTags = extractOgTags(doc)
	pd.StructuredData = extractStructuredData(doc)
	if pd.Language == "" {
		pd.Language = strings.TrimSpace(doc.Find(`meta[property="og:locale"]`).AttrOr("content", ""))
	}

	text := visibleText(doc)
	pd.WordCount = len(strings.Fields(text))
	pd.Completeness = completeness(pd)

	if hasher != nil {
		hash, err := hasher.HashText(text)
		if err != nil {
			return fmt.Errorf("hash content: %w", err)
		}
		pd.ContentHash = hash
	}
	return nil
}

func decodeToUTF8(body []byte, contentType string) ([]byte, error) {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		if utf8.Valid(body) {
			return body, nil
		}
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return decoded, nil
}

func extractHeadings(doc *goquery.Document) []seo.Heading {
	var headings []seo.Heading
	doc.Find("h1, h2, h3").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		level := 1
		if node := s.Get(0); node != nil && len(node.Data) == 2 {
			if n, err := strconv.Atoi(node.Data[1:]); err == nil {
				level = n
			}
		}
		headings = append(headings, seo.Heading{
			Level:    level,
			Text:     text,
			Position: len(headings),
		})
	})
	return headings
}

func extractImages(doc *goquery.Document) []seo.Image {
	var images []seo.Image
	doc.Find("img").Each(func(i int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" {
			return
		}
		images = append(images, seo.Image{
			Src:      src,
			Alt:      strings.TrimSpace(s.AttrOr("alt", "")),
			Title:    strings.TrimSpace(s.AttrOr("title", "")),
			Width:    atoiAttr(s, "width"),
			Height:   atoiAttr(s, "height"),
			Position: len(images),
		})
	})
	return images
}

func atoiAttr(s *goquery.Selection, name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s.AttrOr(name, "")))
	return n
}

func extractLinks(doc *goquery.Document, baseURL string) []seo.PageLink {
	var links []seo.PageLink
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved := seo.ResolveURL(baseURL, href)
		if resolved == "" {
			return
		}
		links = append(links, seo.PageLink{
			Href:       resolved,
			Text:       strings.TrimSpace(s.Text()),
			Rel:        strings.TrimSpace(s.AttrOr("rel", "")),
			IsExternal: !seo.SameHost(baseURL, resolved),
		})
	})
	return links
}

func extractOgTags(doc *goquery.Document) *seo.OgTags {
	og := &seo.OgTags{}
	found := false
	doc.Find(`meta[property^="og:"]`).Each(func(i int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		switch s.AttrOr("property", "") {
		case "og:title":
			og.Title = content
		case "og:description":
			og.Description = content
		case "og:image":
			og.Image = content
		case "og:url":
			og.URL = content
		case "og:type":
			og.Type = content
		case "og:site_name":
			og.SiteName = content
		default:
			return
		}
		found = true
	})
	if !found {
		return nil
	}
	return og
}

func extractStructuredData(doc *goquery.Document) []string {
	var blocks []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, s *goquery.Selection) {
		if block := strings.TrimSpace(s.Text()); block != "" {
			blocks = append(blocks, block)
		}
	})
	return blocks
}

// visibleText returns the page's readable text with scripts, styles and
// chrome elements stripped, whitespace collapsed.
func visibleText(doc *goquery.Document) string {
	sel := doc.Find("body").First()
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	clone := sel.Clone()
	clone.Find("script, noscript, style, nav, header, footer").Remove()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(clone.Text(), " "))
}

// Completeness weights. Presence of each signal contributes its weight;
// the alt-text weight requires every image to carry alt text.
const (
	weightTitle       = 20
	weightDescription = 20
	weightH1          = 15
	weightAltText     = 15
	weightCanonical   = 10
	weightLinks       = 10
	weightOgTags      = 10
)

func completeness(pd *seo.PageData) int {
	score := 0
	if pd.Title != "" {
		score += weightTitle
	}
	if pd.MetaDescription != "" {
		score += weightDescription
	}
	for _, h := range pd.Headings {
		if h.Level == 1 {
			score += weightH1
			break
		}
	}
	if allImagesHaveAlt(pd.Images) {
		score += weightAltText
	}
	if pd.CanonicalURL != "" {
		score += weightCanonical
	}
	if len(pd.Links) > 0 {
		score += weightLinks
	}
	if pd.OgTags != nil {
		score += weightOgTags
	}
	return score
}

func allImagesHaveAlt(images []seo.Image) bool {
	for _, img := range images {
		if img.Alt == "" {
			return false
		}
	}
	return true
}
