// ABOUTME: Section layout that tracks the exact rune count of the text it renders.
// ABOUTME: Lets the assembler test a unit against the budget without re-rendering.

package assembler

import (
	"strings"
	"unicode/utf8"
)

const separator = "\n\n"

// Output sections, in render order.
const (
	sectionLocal = iota
	sectionNotices
	sectionListings
	sectionSkills
	sectionTruncation
	sectionCount
)

var sectionTitles = [sectionCount]string{
	sectionLocal:      "## Local configuration",
	sectionNotices:    "## Notices",
	sectionListings:   "## Plugins",
	sectionSkills:     "## Skills",
	sectionTruncation: "",
}

type block struct {
	text  string
	runes int
}

func newBlock(text string) block {
	return block{text: text, runes: utf8.RuneCountInString(text)}
}

// layout holds blocks per section. runes always equals the rune count of render().
type layout struct {
	sections [sectionCount][]block
	nonEmpty int
	runes    int
}

// cost returns how many runes adding b to section would add to the rendered text.
func (l *layout) cost(section int, b block) int {
	if len(l.sections[section]) > 0 {
		return len(separator) + b.runes
	}
	n := b.runes
	if title := sectionTitles[section]; title != "" {
		n += utf8.RuneCountInString(title) + len(separator)
	}
	if l.nonEmpty > 0 {
		n += len(separator)
	}
	return n
}

func (l *layout) add(section int, b block) {
	l.runes += l.cost(section, b)
	if len(l.sections[section]) == 0 {
		l.nonEmpty++
	}
	l.sections[section] = append(l.sections[section], b)
}

func (l *layout) clone() *layout {
	cp := *l
	for i := range cp.sections {
		cp.sections[i] = append([]block(nil), l.sections[i]...)
	}
	return &cp
}

func (l *layout) render() string {
	var sb strings.Builder
	first := true
	for i, blocks := range l.sections {
		if len(blocks) == 0 {
			continue
		}
		if !first {
			sb.WriteString(separator)
		}
		first = false
		if title := sectionTitles[i]; title != "" {
			sb.WriteString(title)
			sb.WriteString(separator)
		}
		for j, b := range blocks {
			if j > 0 {
				sb.WriteString(separator)
			}
			sb.WriteString(b.text)
		}
	}
	return sb.String()
}

// EstimateTokens returns ceil(runes/4) for text.
func EstimateTokens(text string) int {
	return tokensFor(utf8.RuneCountInString(text))
}

func tokensFor(runes int) int {
	return (runes + 3) / 4
}
