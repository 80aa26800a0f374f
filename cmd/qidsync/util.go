package main

import (
	"bytes"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Caser is stateless and safe to use concurrently by multiple goroutines.
// https://pkg.go.dev/golang.org/x/text/cases#Fold
var caser = cases.Fold()

// NormalizeTitle brings a page title into the form MediaWiki displays:
// underscores become spaces, runs of whitespace collapse, a trailing
// #section anchor is cut off, and the text is normalized to NFC.
// The anchor, if any, is returned separately with its leading hash.
func NormalizeTitle(title string) (normalized string, anchor string) {
	if i := strings.IndexByte(title, '#'); i >= 0 {
		anchor = title[i:]
		title = title[:i]
	}
	var buf bytes.Buffer
	var it norm.Iter
	it.InitString(norm.NFC, title)
	lastSpace := true // also trims leading whitespace
	for !it.Done() {
		c := it.Next()
		if len(c) == 1 && (c[0] <= 0x20 || c[0] == '_') {
			if !lastSpace {
				buf.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		buf.Write(c)
		lastSpace = false
	}
	normalized = strings.TrimSuffix(buf.String(), " ")
	if anchor == "#" {
		anchor = ""
	}
	return normalized, anchor
}

// TitleKey returns the casefolded comparison key for a title. MediaWiki
// treats page titles as first-letter case-insensitive, but the bots this
// tool replaces always compared whole titles casefolded, which is the
// safer choice on wikis with $wgCapitalLinks disabled.
func TitleKey(title string) string {
	normalized, _ := NormalizeTitle(title)
	return caser.String(normalized)
}

// SameTitle reports whether two raw titles name the same page.
func SameTitle(a, b string) bool {
	return TitleKey(a) == TitleKey(b)
}
