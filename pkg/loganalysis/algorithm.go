/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package loganalysis

import (
	"bytes"
	"net"
	"strings"
	"unicode"
)

type (
	// LAPart is one delimiter separated piece of a message.
	LAPart struct {
		Content       string `json:"content"`
		latterContent *string
		// Namespace marks db.collection like words and addresses
		Namespace bool `json:"namespace"`
		Important bool `json:"important"`
		Count     int  `json:"count"`
	}
)

const (
	similarPartsFactor = 0.8
	ignoreTypeLength   = 3
)

var (
	cutors = map[byte]bool{
		' ':  true,
		'\t': true,
		'{':  true,
		'}':  true,
		'[':  true,
		']':  true,
		'(':  true,
		')':  true,
		',':  true,
		':':  true,
		';':  true,
		'"':  true,
		'\'': true,
		'=':  true,
	}
)

func (p *LAPart) getLatterContent(reuse *bytes.Buffer) string {
	if p.latterContent == nil {
		p.makeLatterContent(reuse)
	}
	return *p.latterContent
}

func (p *LAPart) makeLatterContent(reuse *bytes.Buffer) {
	if reuse == nil {
		reuse = bytes.NewBuffer(nil)
	} else {
		reuse.Reset()
	}
	for _, c := range p.Content {
		if unicode.IsLetter(c) || c == '$' || c == '_' {
			reuse.WriteRune(c)
		}
	}
	str := reuse.String()
	p.latterContent = &str
}

// isImportant reports parts made of words only, such as field names and operators.
func isImportant(in string) bool {
	if len(in) <= 3 {
		return false
	}
	letterC := 0
	for _, c := range in {
		if unicode.IsLetter(c) || c == ' ' || c == '$' || c == '_' {
			letterC++
		}
	}
	return float64(letterC)/float64(len(in)) > 0.9
}

// isNamespace reports words like shop.orders or an ip address.
func isNamespace(in string) bool {
	if len(in) <= 3 || strings.ContainsAny(in, " \t") {
		return false
	}
	if fastContainIp(in) {
		return true
	}
	dot := strings.IndexByte(in, '.')
	if dot <= 0 || dot == len(in)-1 {
		return false
	}
	for _, c := range in[:dot] {
		if !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-') {
			return false
		}
	}
	return unicode.IsLetter(rune(in[0]))
}

func fastContainIp(log string) bool {
	in := []byte(log)

	indexs := make([]int, 0, 3)
	for i, c := range in {
		if c == '.' {
			indexs = append(indexs, i)
		}
	}

	if len(indexs) < 3 {
		return false
	}

	for currentIndex := 0; currentIndex+3 <= len(indexs); currentIndex++ {
		if isIp(indexs[currentIndex:currentIndex+3], in) {
			return true
		}
	}

	return false
}

func skipWhenSimilar(f *LAPart) bool {
	if f.Namespace {
		return true
	}
	return len(f.Content) < ignoreTypeLength
}

func isSimilar(fs, ts []*LAPart) bool {
	small, big := len(fs), len(ts)
	if small > big {
		small, big = big, small
	}
	if big == 0 {
		return true
	}
	if float64(small)/float64(big) < similarPartsFactor {
		return false
	}

	similar := 0
	total := 0

	var reuse bytes.Buffer
	for _, f := range fs {
		if skipWhenSimilar(f) {
			continue
		}

		found := false
		for _, t := range ts {
			if isSimilarPart(&reuse, f, t) {
				found = true
				break
			}
		}
		partSize := len(f.Content)

		sAdd, tAdd := 0, partSize
		if found {
			sAdd = partSize
		}

		if f.Important {
			sAdd *= 2
			tAdd *= 2
		}

		similar += sAdd
		total += tAdd
	}

	// nothing but namespaces and short tokens
	if total == 0 {
		return true
	}

	return float64(similar)/float64(total) >= similarPartsFactor
}

func isSimilarPart(reuse *bytes.Buffer, t, f *LAPart) bool {
	return t.getLatterContent(reuse) == f.getLatterContent(reuse)
}

// stripHeader drops the "<time> <severity> <component> [<context>] " prefix of a mongod line.
func stripHeader(input string) string {
	if len(input) > 10 && input[4] == '-' && input[7] == '-' {
		if i := strings.Index(input, "] "); i > 0 {
			return input[i+2:]
		}
	}
	return input
}

func newPart(content string) *LAPart {
	return &LAPart{
		Content:   content,
		Namespace: isNamespace(content),
		Important: isImportant(content),
		Count:     1,
	}
}

func dissembleParts(input string) []*LAPart {
	input = stripHeader(input)

	ret := make([]*LAPart, 0)
	start := 0
	for i := 0; i < len(input); i++ {
		if !cutors[input[i]] {
			continue
		}
		if content := strings.TrimSpace(input[start:i]); len(content) > 0 {
			ret = append(ret, newPart(content))
		}
		start = i + 1
	}
	if content := strings.TrimSpace(input[start:]); len(content) > 0 {
		ret = append(ret, newPart(content))
	}
	return ret
}

func isIp(index []int, in []byte) bool {
	// 11.222.33.33: dots too far from each other
	if index[1]-index[0] > 4 || index[2]-index[1] > 4 {
		return false
	}

	leftMost := index[0]
	for shift := 0; shift < 3; shift++ {
		leftMost--
		if leftMost < 0 {
			leftMost = 0
			break
		}
		if !isDigit(in[leftMost]) {
			if shift == 0 {
				return false
			}
			leftMost++
			break
		}
	}

	rightMost := index[2]
	for shift := 0; shift < 3; shift++ {
		rightMost++
		if rightMost >= len(in)-1 {
			rightMost = len(in) - 1
			break
		}
		if !isDigit(in[rightMost]) {
			if shift == 0 {
				return false
			}
			rightMost = rightMost - 1
			break
		}
	}

	return net.ParseIP(string(in[leftMost:rightMost+1])) != nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
