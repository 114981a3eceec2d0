// Package export renders sanitized tool output as a downloadable SVG and
// produces HMAC-signed, time-limited retrieval URLs for it, per spec §4.7.
package export

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxTitleChars bounds the title field accepted by the export endpoint.
const MaxTitleChars = 200

// MaxBodyChars bounds the rendered JSON body before it is truncated. The
// response reports truncated=true when this limit is hit.
const MaxBodyChars = 8000

// sanitized is the size/type-checked input to renderSVG.
type sanitized struct {
	Title     string
	Body      string
	Truncated bool
}

// sanitize applies the size/type rules from spec §4.7: title is capped at
// MaxTitleChars, safeJSON is re-marshaled to canonical JSON and capped at
// MaxBodyChars.
func sanitize(title string, safeJSON any) (sanitized, error) {
	truncated := false

	if len(title) > MaxTitleChars {
		title = title[:MaxTitleChars]
		truncated = true
	}

	body, err := json.MarshalIndent(safeJSON, "", "  ")
	if err != nil {
		return sanitized{}, fmt.Errorf("marshal export payload: %w", err)
	}
	bodyStr := string(body)
	if len(bodyStr) > MaxBodyChars {
		bodyStr = bodyStr[:MaxBodyChars]
		truncated = true
	}

	return sanitized{Title: title, Body: bodyStr, Truncated: truncated}, nil
}

// renderSVG lays the sanitized title and JSON body out as monospace text
// inside a fixed-width SVG document. It is intentionally simple: a visual
// export of an already-redacted JSON object, not a general document
// renderer.
func renderSVG(s sanitized) []byte {
	const (
		width      = 960
		lineHeight = 18
		padding    = 16
		fontSize   = 13
	)

	lines := strings.Split(s.Body, "\n")
	titleLines := 0
	if s.Title != "" {
		titleLines = 1
	}
	height := padding*2 + (titleLines+len(lines))*lineHeight

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		width, height, width, height)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)

	y := padding + fontSize
	if s.Title != "" {
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-family="monospace" font-size="%d" font-weight="bold">%s</text>`,
			padding, y, fontSize+2, escapeSVGText(s.Title))
		y += lineHeight
	}
	for _, line := range lines {
		fmt.Fprintf(&b, `<text x="%d" y="%d" font-family="monospace" font-size="%d" xml:space="preserve">%s</text>`,
			padding, y, fontSize, escapeSVGText(line))
		y += lineHeight
	}
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

var svgEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

func escapeSVGText(s string) string {
	return svgEscaper.Replace(s)
}
