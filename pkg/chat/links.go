package chat

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/tunogya/tkg/pkg/model"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
		html.WithXHTML(),
	),
)

// DateLinks returns the distinct dates linked as [YYYY-MM-DD](#YYYY-MM-DD)
// in a reply, in order of first appearance. Links with any other target
// are ignored; replies without links yield nil.
func DateLinks(reply string) []string {
	source := []byte(reply)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var dates []string
	seen := make(map[string]struct{})
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindLink {
			return ast.WalkContinue, nil
		}
		link := n.(*ast.Link)
		dest := string(link.Destination)
		if !strings.HasPrefix(dest, "#") {
			return ast.WalkContinue, nil
		}
		day, err := model.ParseDate(dest[1:])
		if err != nil {
			return ast.WalkContinue, nil
		}
		key := day.Format(model.DateLayout)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			dates = append(dates, key)
		}
		return ast.WalkSkipChildren, nil
	})
	return dates
}

// RenderHTML converts a reply to HTML for hosts that do not render markdown
func RenderHTML(reply string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(reply), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
