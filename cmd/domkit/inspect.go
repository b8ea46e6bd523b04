package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"domkit-mcp-server/internal/config"
	"domkit-mcp-server/internal/dom"
	"domkit-mcp-server/internal/extract"
	"domkit-mcp-server/internal/facts"

	"github.com/spf13/cobra"
)

type inspectOptions struct {
	format     string
	baseURL    string
	configPath string
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run extraction against a static HTML file",
		Long: `Run the extractors against a saved page without a browser.

Pass "-" as the file to read from stdin. Static documents carry no computed
styles, so visibility is judged from inline styles and <style> rules only.`,
	}
	cmd.PersistentFlags().StringVar(&opts.format, "format", "markdown", "Output format: markdown or json")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "URL used to resolve relative hrefs")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file supplying extraction limits")

	cmd.AddCommand(&cobra.Command{
		Use:   "inputs <file>",
		Short: "List visible input fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := opts.extractor(cmd, args[0])
			if err != nil {
				return err
			}
			fields := ex.Inputs()
			return opts.write(cmd.OutOrStdout(), fields, func() string { return extract.MarkdownInputs(fields) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clickables <file>",
		Short: "List visible clickable elements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := opts.extractor(cmd, args[0])
			if err != nil {
				return err
			}
			items := ex.Clickables()
			return opts.write(cmd.OutOrStdout(), items, func() string { return extract.MarkdownClickables(items) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "text <file> <text>",
		Short: "Find visible elements containing text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := opts.extractor(cmd, args[0])
			if err != nil {
				return err
			}
			items := ex.FindByText(args[1])
			return opts.write(cmd.OutOrStdout(), items, func() string { return extract.MarkdownMatches(args[1], items) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "content <file>",
		Short: "Render the page as markdown followed by its clickable and input tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := opts.extractor(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			content, err := ex.Content(ctx)
			if err != nil {
				return err
			}
			content += extract.MarkdownClickables(ex.Clickables()) + extract.MarkdownInputs(ex.Inputs())
			return opts.write(cmd.OutOrStdout(), map[string]string{"content": content}, func() string { return content })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "query <file> <datalog>",
		Short:   "Extract inputs and clickables, then run a Datalog query over their facts",
		Example: `  domkit inspect query form.html 'required_field(S, A, D).'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := opts.extractor(cmd, args[0])
			if err != nil {
				return err
			}
			results, err := queryStatic(cmd.Context(), ex, args[1])
			if err != nil {
				return err
			}
			return opts.write(cmd.OutOrStdout(), results, func() string { return markdownBindings(results) })
		},
	})

	return cmd
}

func (o *inspectOptions) extractor(cmd *cobra.Command, path string) (*extract.Extractor, error) {
	limits := extract.DefaultLimits()
	if o.configPath != "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		limits = extract.Limits{
			TextMatch:   cfg.Extraction.TextMatchLimit,
			Clickable:   cfg.Extraction.ClickableLimit,
			Description: cfg.Extraction.DescriptionLimit,
		}
	}

	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	doc, err := dom.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	doc.URL = o.baseURL
	return extract.New(doc, limits), nil
}

func (o *inspectOptions) write(w io.Writer, payload interface{}, markdown func() string) error {
	switch o.format {
	case "markdown", "md":
		_, err := io.WriteString(w, strings.TrimLeft(markdown(), "\n")+"\n")
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	default:
		return fmt.Errorf("unknown format %q (want markdown or json)", o.format)
	}
}

func queryStatic(ctx context.Context, ex *extract.Extractor, query string) ([]facts.QueryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	engine, err := facts.NewEngine(config.FactsConfig{Enable: true}, nil)
	if err != nil {
		return nil, err
	}
	batch := append(
		facts.InputFacts(facts.StaticSession, ex.Inputs()),
		facts.ClickableFacts(facts.StaticSession, ex.Clickables())...,
	)
	if err := engine.AddFacts(ctx, batch); err != nil {
		return nil, err
	}
	return engine.Query(ctx, query)
}

func markdownBindings(results []facts.QueryResult) string {
	if len(results) == 0 {
		return "_no results_"
	}
	var vars []string
	for k := range results[0] {
		vars = append(vars, k)
	}
	sort.Strings(vars)

	var b strings.Builder
	b.WriteString("| " + strings.Join(vars, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(vars)) + "\n")
	for _, r := range results {
		cells := make([]string, len(vars))
		for i, v := range vars {
			cells[i] = strings.ReplaceAll(fmt.Sprint(r[v]), "|", "\\|")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	fmt.Fprintf(&b, "\n**Total:** %d results", len(results))
	return b.String()
}
