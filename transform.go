package main

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// Chat markup is inline only: no headings, lists or links.
var markdownParser = parser.NewParser(
	parser.WithBlockParsers(
		util.Prioritized(parser.NewParagraphParser(), 1000),
	),
	parser.WithInlineParsers(
		util.Prioritized(parser.NewCodeSpanParser(), 100),
		util.Prioritized(parser.NewEmphasisParser(), 500),
		util.Prioritized(extension.NewStrikethroughParser(), 500),
	),
)

var (
	spoilerPattern = regexp.MustCompile(`\|\|(.+?)\|\|`)
	mentionPattern = regexp.MustCompile(`<(@!?|@&|#|a?:[A-Za-z0-9_~]{1,32}:)(\d{1,20})>`)
)

// renderInbound turns a chat message into plain console text: markup is
// stripped, mentions resolved, and attachments and embeds become bracketed
// placeholders.
func renderInbound(msg InboundMessage, dir Directory) string {
	var parts []string
	if content := renderContent(msg.Content, dir); content != "" {
		parts = append(parts, content)
	}
	for _, a := range msg.Attachments {
		parts = append(parts, attachmentPlaceholder(a))
	}
	for _, e := range msg.Embeds {
		if p := embedPlaceholder(e); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// renderContent leaves plain text untouched, so applying it twice is the
// same as applying it once.
func renderContent(content string, dir Directory) string {
	return resolveMentions(stripMarkdown(content), dir)
}

func stripMarkdown(s string) string {
	if strings.Contains(s, "||") {
		s = spoilerPattern.ReplaceAllString(s, "$1")
	}
	if !strings.ContainsAny(s, "*_~`\\") {
		return s
	}

	source := []byte(s)
	doc := markdownParser.Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Kind() == ast.KindParagraph && n.NextSibling() != nil {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			value := node.Segment.Value(source)
			if !node.IsRaw() {
				value = util.UnescapePunctuations(value)
			}
			b.Write(value)
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// resolveMentions replaces mention tokens using only cached names; unknown
// IDs keep their raw token.
func resolveMentions(s string, dir Directory) string {
	if !strings.Contains(s, "<") {
		return s
	}
	return mentionPattern.ReplaceAllStringFunc(s, func(token string) string {
		m := mentionPattern.FindStringSubmatch(token)
		prefix, id := m[1], m[2]
		switch prefix {
		case "@", "@!":
			if name, ok := dir.MemberName(id); ok {
				return "@" + name
			}
		case "@&":
			if name, ok := dir.RoleName(id); ok {
				return "@" + name
			}
		case "#":
			if name, ok := dir.ChannelName(id); ok {
				return "#" + name
			}
		default:
			name := strings.Trim(strings.TrimPrefix(prefix, "a"), ":")
			return "[:" + name + ":]"
		}
		return token
	})
}

func attachmentPlaceholder(a Attachment) string {
	if a.Image {
		return "[image: " + a.Filename + "]"
	}
	return "[file: " + a.Filename + "]"
}

func embedPlaceholder(e Embed) string {
	switch {
	case e.Provider != "" && e.Title != "":
		return "[link: " + e.Provider + " - " + e.Title + "]"
	case e.Title != "":
		return "[link: " + e.Title + "]"
	case e.URL != "":
		return "[link: " + e.URL + "]"
	}
	return ""
}
