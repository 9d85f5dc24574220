package commands

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// token is one slash-like candidate found in input text.
type token struct {
	name   string
	offset int
}

var tokenPattern = regexp.MustCompile(`/([A-Za-z][A-Za-z0-9_-]*)`)

// Pasted text full of slash tokens is prose (diffs, file listings), not a
// command invocation. Above denseTokenThreshold candidates, matches only
// count if they are few or sit at the input's edges.
const (
	denseTokenThreshold = 5
	denseMatchLimit     = 2
)

// scanTokens finds slash tokens at word boundaries. Path-like occurrences
// are rejected: a token preceded by a non-space character (`a/b`) or
// followed by another path segment (`/usr/bin`) is not a command.
func scanTokens(text string) []token {
	var tokens []token
	for _, loc := range tokenPattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 {
			prev := text[start-1]
			if prev != ' ' && prev != '\t' && prev != '\n' && prev != '(' && prev != '"' && prev != '\'' {
				continue
			}
		}
		if end < len(text) && (text[end] == '/' || text[end] == '.') {
			continue
		}
		tokens = append(tokens, token{name: text[start+1 : end], offset: start})
	}
	return tokens
}

// Expand scans text for slash commands and appends each matched command's
// body as additive instruction content. The original text is preserved,
// never replaced. Nested references expand to the catalog's depth bound with
// a visited set, so request-time expansion always terminates.
func (c *Catalog) Expand(text string) string {
	if len(c.defs) == 0 {
		return text
	}

	tokens := scanTokens(text)
	var matched []token
	for _, tok := range tokens {
		if _, ok := c.defs[tok.name]; ok {
			matched = append(matched, tok)
		}
	}
	if len(matched) == 0 {
		return text
	}

	if len(tokens) > denseTokenThreshold && len(matched) > denseMatchLimit && !edgesOnly(text, matched) {
		logrus.Debugf("Treating input with %d slash tokens as prose, skipping command expansion", len(tokens))
		return text
	}

	visited := map[string]bool{}
	var sections []string
	var walk func(name string, depth int)
	walk = func(name string, depth int) {
		if depth > c.maxDepth || visited[name] {
			return
		}
		visited[name] = true
		def := c.defs[name]
		sections = append(sections, "Instructions for /"+name+":\n"+def.Body)
		for _, ref := range def.References {
			walk(ref, depth+1)
		}
	}
	for _, tok := range matched {
		walk(tok.name, 1)
	}

	if len(sections) == 0 {
		return text
	}
	return text + "\n\n" + strings.Join(sections, "\n\n")
}

// edgesOnly reports whether all matches sit on the input's first or last
// line, the usual place for a deliberate command in otherwise dense text.
func edgesOnly(text string, matched []token) bool {
	firstLineEnd := strings.IndexByte(text, '\n')
	if firstLineEnd < 0 {
		return true
	}
	lastLineStart := strings.LastIndexByte(strings.TrimRight(text, "\n"), '\n') + 1
	for _, tok := range matched {
		if tok.offset > firstLineEnd && tok.offset < lastLineStart {
			return false
		}
	}
	return true
}
