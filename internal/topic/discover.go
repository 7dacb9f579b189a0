package topic

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedLinkTypes は<link rel="alternate">で取り込み対象とするtype属性。Atomを優先する。
var feedLinkTypes = map[string]int{
	"application/atom+xml": 2,
	"application/rss+xml":  1,
}

// isHTML はContent-TypeがHTMLかどうかを判定する。
func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// discoverFeedLink はHTMLのhead内からフィードへのリンクを1つ選ぶ。
// 同一ホストのリンク、Atom、出現順の順で優先する。
func discoverFeedLink(body []byte, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}

	var (
		best      string
		bestScore = -1
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return best, best != ""
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return best, best != ""
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return best, best != ""
			}
			if string(name) != "link" || !hasAttr {
				continue
			}

			attrs := map[string]string{}
			for more := true; more; {
				var k, v []byte
				k, v, more = z.TagAttr()
				attrs[strings.ToLower(string(k))] = string(v)
			}
			if !strings.EqualFold(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}
			typeScore, ok := feedLinkTypes[strings.ToLower(attrs["type"])]
			if !ok {
				continue
			}
			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			resolved := base.ResolveReference(ref)

			score := typeScore
			if strings.EqualFold(resolved.Hostname(), base.Hostname()) {
				score += 10
			}
			if score > bestScore {
				best, bestScore = resolved.String(), score
			}
		}
	}
}
