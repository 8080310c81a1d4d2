// Package extract turns web articles into phrase facts.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-shiori/go-readability"

	"github.com/lanceczlt/Pun-Generator/pkg/facts"
)

// Article is the readable part of a page.
type Article struct {
	Title    string
	Byline   string
	SiteName string
	URL      string
	Text     string
}

var (
	// (?s) allows dot to match newlines
	// (?i) makes it case-insensitive
	reRT = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
)

// SanitizeRuby removes ruby text (<rt>...</rt>) and ruby parentheses (<rp>...</rp>)
// from HTML content. Readability keeps furigana as plain text, so "漢字" would
// otherwise come out as "漢字かんじ".
// Works on Shift_JIS bytes too: '<' is never a trailing byte there.
func SanitizeRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, []byte{})
	cleaned = reRP.ReplaceAll(cleaned, []byte{})
	return cleaned
}

// FromHTML extracts the article from an HTML document fetched from pageURL.
func FromHTML(body []byte, pageURL string) (Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Article{}, fmt.Errorf("parse url %q: %w", pageURL, err)
	}
	art, err := readability.FromReader(bytes.NewReader(SanitizeRuby(body)), parsed)
	if err != nil {
		return Article{}, fmt.Errorf("extract article: %w", err)
	}
	site := art.SiteName
	if site == "" {
		site = parsed.Hostname()
	}
	return Article{
		Title:    strings.TrimSpace(art.Title),
		Byline:   strings.TrimSpace(art.Byline),
		SiteName: strings.TrimSpace(site),
		URL:      pageURL,
		Text:     art.TextContent,
	}, nil
}

// Source returns the provenance record of the article. Empty fields are left out.
func (a Article) Source() facts.Source {
	src := facts.Source{}
	for k, v := range map[string]string{
		"site_name":  a.SiteName,
		"url":        a.URL,
		"page_title": a.Title,
		"author":     a.Byline,
	} {
		if v != "" {
			src[k] = []string{v}
		}
	}
	return src
}

// Fact returns one phrase fact holding every sentence of the article.
func (a Article) Fact() facts.PhraseFact {
	return facts.PhraseFact{Phrases: SplitSentences(a.Text), Source: a.Source()}
}

// SplitSentences splits text on sentence terminators and newlines. Latin
// terminators only end a sentence when followed by a space or the end of text,
// so decimals and abbreviations like "3.5" stay intact.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	flush := func() {
		if s := strings.Join(strings.Fields(current.String()), " "); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		switch r {
		// 。(3002), ！(FF01), ？(FF1F)
		case '。', '！', '？':
			flush()
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}
