package source

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return collapseSpace(doc.Text())
}

// collapseSpace trims and folds runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// newArticle builds an article with the adapter's conventions: content
// falls back to the title and a missing timestamp falls back to now.
func newArticle(source, title, url, content string, published time.Time) models.Article {
	title = collapseSpace(title)
	content = collapseSpace(content)
	if content == "" {
		content = title
	}
	if published.IsZero() {
		published = time.Now().UTC()
	}
	return models.Article{
		Title:       title,
		URL:         strings.TrimSpace(url),
		Source:      source,
		Content:     content,
		PublishedAt: published,
	}
}

// absoluteURL resolves href against base when it is site-relative.
func absoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	default:
		return strings.TrimRight(base, "/") + "/" + href
	}
}
