/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package slowquery

import "strings"

type (
	// ObjectExtractor recovers the first object literal from a span of log text.
	ObjectExtractor interface {
		ExtractObject(text string) (string, bool)
	}
	// BraceScanner is the default ObjectExtractor. It counts braces and does not
	// understand quoting, so a brace inside a string value is counted too.
	BraceScanner struct{}
)

var defaultExtractor ObjectExtractor = BraceScanner{}

// ExtractObject returns the first balanced {...} substring of text, braces included.
func (BraceScanner) ExtractObject(text string) (string, bool) {
	depth := 0
	start := -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractObject uses the default BraceScanner.
func ExtractObject(text string) (string, bool) {
	return defaultExtractor.ExtractObject(text)
}

// ExtractTarget returns the quoted value right after the first occurrence of label.
// The value starts one character after the label (the opening quote is skipped) and ends
// at the next '"' after that start.
func ExtractTarget(msg, label string) (string, bool) {
	idx := strings.Index(msg, label)
	if idx < 0 {
		return "", false
	}
	start := idx + len(label) + 1
	if start >= len(msg) {
		return "", true
	}
	end := strings.IndexByte(msg[start+1:], '"')
	if end < 0 {
		return "", true
	}
	return msg[start : start+1+end], true
}
