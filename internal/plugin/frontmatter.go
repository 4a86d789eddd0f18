// ABOUTME: YAML frontmatter splitting and decoding for skill and command markdown.
// ABOUTME: Files without frontmatter are accepted; the whole file is the body.

package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontmatter is the union of keys understood on skill and command files.
type frontmatter struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	ArgumentHint string       `yaml:"argument-hint"`
	Inputs       []inputEntry `yaml:"inputs"`
	Skills       []string     `yaml:"skills"`
}

type inputEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    *bool  `yaml:"required"`
}

// splitFrontmatter separates a leading "---" fenced block from the body.
// ok is false when the text has no frontmatter.
func splitFrontmatter(raw string) (front, body string, ok bool) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(raw, "---\n") {
		return "", raw, false
	}
	lines := strings.Split(raw, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return "", raw, false
	}
	front = strings.Join(lines[1:end], "\n")
	if end+1 < len(lines) {
		body = strings.Join(lines[end+1:], "\n")
	}
	return front, body, true
}

// parseFrontmatter decodes the frontmatter of a markdown file and returns the body.
func parseFrontmatter(raw string) (frontmatter, string, error) {
	var fm frontmatter
	front, body, ok := splitFrontmatter(raw)
	if !ok {
		return fm, body, nil
	}
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return fm, body, fmt.Errorf("decoding frontmatter: %w", err)
	}
	fm.Name = strings.TrimSpace(fm.Name)
	fm.Description = strings.TrimSpace(fm.Description)
	fm.ArgumentHint = strings.TrimSpace(fm.ArgumentHint)
	return fm, body, nil
}
