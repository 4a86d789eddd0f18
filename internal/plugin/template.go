// ABOUTME: Command template structure extraction using the goldmark markdown parser.
// ABOUTME: Derives the one-line description and declared input slots from a template body.

package plugin

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// slotPattern matches {{name}} placeholders in command templates.
var slotPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

var markdown = goldmark.New()

// SlotToken returns the placeholder text for an input slot name.
func SlotToken(name string) string {
	return "{{" + name + "}}"
}

// SlotNames returns the distinct {{name}} placeholders in text, in order of first appearance.
func SlotNames(body string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range slotPattern.FindAllStringSubmatch(body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// ReplaceSlots substitutes {{name}} placeholders with values. Unknown names are left as-is.
func ReplaceSlots(body string, values map[string]string) string {
	return slotPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := slotPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}

// templateOutline is the structure goldmark finds in a command template.
type templateOutline struct {
	FirstHeading string
	FirstLine    string
	Inputs       []InputSlot
}

// outlineTemplate walks the markdown AST of body.
func outlineTemplate(body string) templateOutline {
	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var out templateOutline
	inInputs := false
	inputsLevel := 0

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(nodeText(node, src))
			if out.FirstHeading == "" && title != "" {
				out.FirstHeading = title
			}
			if inInputs && node.Level <= inputsLevel {
				inInputs = false
			}
			if isInputsHeading(title) {
				inInputs = true
				inputsLevel = node.Level
			}
		case *ast.Paragraph:
			if out.FirstLine == "" {
				out.FirstLine = firstLine(nodeText(node, src))
			}
		case *ast.List:
			if !inInputs {
				continue
			}
			for item := node.FirstChild(); item != nil; item = item.NextSibling() {
				if slot, ok := parseInputItem(nodeText(item, src)); ok {
					out.Inputs = append(out.Inputs, slot)
				}
			}
		}
	}
	return out
}

func isInputsHeading(title string) bool {
	switch strings.ToLower(strings.TrimSuffix(title, ":")) {
	case "inputs", "input", "arguments", "parameters":
		return true
	}
	return false
}

// parseInputItem reads "name: description" or "name - description" list items.
func parseInputItem(item string) (InputSlot, bool) {
	item = strings.TrimSpace(item)
	if item == "" {
		return InputSlot{}, false
	}

	name, desc := item, ""
	cut, width := -1, 0
	for _, sep := range []string{":", " - "} {
		if i := strings.Index(item, sep); i > 0 && (cut < 0 || i < cut) {
			cut, width = i, len(sep)
		}
	}
	if cut > 0 {
		name, desc = item[:cut], item[cut+width:]
	}

	optional := false
	lower := strings.ToLower(desc)
	if strings.HasPrefix(lower, "(optional)") {
		optional = true
		desc = desc[len("(optional)"):]
	}

	name = strings.Trim(strings.TrimSpace(name), "`*{}")
	if name == "" || strings.ContainsAny(name, " \t") {
		return InputSlot{}, false
	}
	return InputSlot{
		Name:        name,
		Description: strings.TrimSpace(desc),
		Required:    !optional,
	}, true
}

// nodeText concatenates the literal text beneath n.
func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					buf.WriteByte('\n')
				}
			case *ast.String:
				buf.Write(t.Value)
			default:
				walk(c)
				if c.Type() == ast.TypeBlock {
					buf.WriteByte('\n')
				}
			}
		}
	}
	walk(n)
	return buf.String()
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
