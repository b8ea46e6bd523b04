package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"domkit-mcp-server/internal/dom"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
)

// ImageURLLimit caps image link targets kept in page content, in characters.
const ImageURLLimit = 50

// RedactedImage replaces inline data: image targets.
const RedactedImage = "REDACTED"

var errNoDocument = errors.New("document has no root")

var (
	markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	htmlImage     = regexp.MustCompile(`<img\s+([^>]*?)/?>`)
	altAttr       = regexp.MustCompile(`alt\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Content converts the whole document to markdown with images shortened by
// CleanImages and repeats removed by DedupLines. Excluded subtrees are left
// out. Relative links resolve against the document URL.
func (e *Extractor) Content(ctx context.Context) (string, error) {
	if e.doc == nil || e.doc.Root == nil {
		return "", errNoDocument
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, e.doc.Root); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	if len(e.exclude) > 0 {
		conv.Register.Renderer(e.skipExcluded, converter.PriorityEarly)
	}

	md, err := conv.ConvertString(buf.String(),
		converter.WithDomain(e.doc.URL),
		converter.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return DedupLines(CleanImages(md)), nil
}

func (e *Extractor) skipExcluded(_ converter.Context, _ converter.Writer, n *html.Node) converter.RenderStatus {
	if n.Type == html.ElementNode && e.exclude[dom.Attr(n, "id")] {
		return converter.RenderSuccess
	}
	return converter.RenderTryNext
}

// CleanImages rewrites image references in markdown. data: targets become
// RedactedImage and targets longer than ImageURLLimit are truncated. Raw <img>
// tags become their alt text followed by "#img", or are dropped without one.
func CleanImages(md string) string {
	md = markdownImage.ReplaceAllStringFunc(md, func(m string) string {
		sub := markdownImage.FindStringSubmatch(m)
		alt, target := sub[1], sub[2]
		if strings.HasPrefix(target, "data:") {
			target = RedactedImage
		} else {
			target = Truncate(target, ImageURLLimit)
		}
		return "![" + alt + "](" + target + ")"
	})
	return htmlImage.ReplaceAllStringFunc(md, func(m string) string {
		attrs := htmlImage.FindStringSubmatch(m)[1]
		sub := altAttr.FindStringSubmatch(attrs)
		if sub == nil {
			return ""
		}
		alt := sub[1] + sub[2]
		if alt == "" {
			return ""
		}
		return alt + "#img "
	})
}

// DedupLines drops a line whose trimmed text equals the last kept non-blank
// line, even across blank lines, and folds blank runs into one. Leading and
// trailing blank lines are removed.
func DedupLines(md string) string {
	var (
		out   []string
		last  string
		blank bool
	)
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		if trimmed == last {
			continue
		}
		out = append(out, strings.TrimRight(line, " \t"))
		last = trimmed
		blank = false
	}
	if blank {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
