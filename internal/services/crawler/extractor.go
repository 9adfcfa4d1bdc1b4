package crawler

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/respondeo/internal/models"
)

var (
	spaceRegex   = regexp.MustCompile(`[ \t]+`)
	newlineRegex = regexp.MustCompile(`\n{3,}`)
)

// dateLayouts are tried in order when parsing published dates from
// meta tags, JSON-LD, and time elements.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ExtractArticle parses an HTML page and extracts the article content
// as markdown along with title, author, and published date.
func ExtractArticle(pageURL, html string) (*models.ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	ldAuthor, ldPublished, ldHeadline := extractJSONLD(doc)

	title := extractTitle(doc, ldHeadline)
	author := extractAuthor(doc, ldAuthor)
	published := extractPublishedDate(doc, ldPublished)

	root := contentRoot(doc)

	rootHTML, err := goquery.OuterHtml(root)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content root: %w", err)
	}

	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(rootHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to convert content to markdown: %w", err)
	}
	markdown = cleanWhitespace(markdown)

	plainText := cleanWhitespace(root.Text())
	wordCount := len(strings.Fields(plainText))
	if wordCount == 0 {
		return nil, fmt.Errorf("no text content found")
	}

	return &models.ExtractedContent{
		URL:           pageURL,
		Title:         title,
		Author:        author,
		PublishedDate: published,
		Markdown:      markdown,
		WordCount:     wordCount,
	}, nil
}

// contentRoot selects the main article container, falling back to the
// body with boilerplate removed.
func contentRoot(doc *goquery.Document) *goquery.Selection {
	main := doc.Find("main, article, [role=main]").First()
	if main.Length() > 0 {
		removeBoilerplate(main)
		return main
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		return doc.Selection
	}
	removeBoilerplate(body)
	return body
}

func removeBoilerplate(sel *goquery.Selection) {
	sel.Find("script, style, noscript, iframe, form").Remove()
	sel.Find("nav, header, footer, aside").Remove()
	sel.Find("[class*=ad-], [id*=ad-], [class*=promo], [class*=sidebar], [class*=cookie], [class*=newsletter]").Remove()
}

func extractTitle(doc *goquery.Document, ldHeadline string) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if ldHeadline != "" {
		return ldHeadline
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractAuthor(doc *goquery.Document, ldAuthor string) string {
	if meta, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok && strings.TrimSpace(meta) != "" {
		return strings.TrimSpace(meta)
	}
	if ldAuthor != "" {
		return ldAuthor
	}
	if rel := strings.TrimSpace(doc.Find(`[rel="author"]`).First().Text()); rel != "" {
		return rel
	}
	return strings.TrimSpace(doc.Find(".author, .byline").First().Text())
}

func extractPublishedDate(doc *goquery.Document, ldPublished string) *time.Time {
	candidates := []string{}
	if meta, ok := doc.Find(`meta[property="article:published_time"]`).Attr("content"); ok {
		candidates = append(candidates, meta)
	}
	if ldPublished != "" {
		candidates = append(candidates, ldPublished)
	}
	if dt, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, dt)
	}

	for _, candidate := range candidates {
		if parsed := parseDate(candidate); parsed != nil {
			return parsed
		}
	}
	return nil
}

func parseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// extractJSONLD pulls author, datePublished, and headline from the
// first Article-like JSON-LD block. Handles single objects, arrays,
// and @graph containers.
func extractJSONLD(doc *goquery.Document) (author, published, headline string) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var data interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return true
		}

		for _, node := range flattenJSONLD(data) {
			if !isArticleType(node["@type"]) {
				continue
			}
			author = jsonLDAuthorName(node["author"])
			published, _ = node["datePublished"].(string)
			headline, _ = node["headline"].(string)
			return false
		}
		return true
	})
	return author, strings.TrimSpace(published), strings.TrimSpace(headline)
}

// flattenJSONLD expands arrays and @graph containers into a flat list
// of candidate objects.
func flattenJSONLD(data interface{}) []map[string]interface{} {
	var nodes []map[string]interface{}
	switch v := data.(type) {
	case []interface{}:
		for _, item := range v {
			nodes = append(nodes, flattenJSONLD(item)...)
		}
	case map[string]interface{}:
		nodes = append(nodes, v)
		if graph, ok := v["@graph"].([]interface{}); ok {
			for _, item := range graph {
				nodes = append(nodes, flattenJSONLD(item)...)
			}
		}
	}
	return nodes
}

func isArticleType(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return v == "Article" || v == "BlogPosting" || v == "NewsArticle"
	case []interface{}:
		for _, item := range v {
			if isArticleType(item) {
				return true
			}
		}
	}
	return false
}

// jsonLDAuthorName handles the three shapes authors appear in: a bare
// string, an object with a name, or an array of either.
func jsonLDAuthorName(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]interface{}:
		if name, ok := v["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []interface{}:
		if len(v) > 0 {
			return jsonLDAuthorName(v[0])
		}
	}
	return ""
}

func cleanWhitespace(text string) string {
	text = spaceRegex.ReplaceAllString(text, " ")
	text = newlineRegex.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
