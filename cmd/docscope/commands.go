package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docscope/internal/app"
	"docscope/internal/extractor"
	"docscope/internal/indexer"
)

func newIngestCmd(open opener) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "ingest <file-or-dir>...",
		Short: "Extract, embed and index PDFs",
		Long: `Ingest one or more PDFs. Directories are scanned (not recursively) for .pdf files.
Files already indexed are skipped unless --fresh is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := collectPDFs(args)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("no PDF files found")
			}
			return withDeps(cmd, open, func(deps app.Deps) error {
				res := deps.Manager.IngestBatch(cmd.Context(), items, indexer.IngestOptions{Fresh: fresh})
				printBatch(cmd.OutOrStdout(), res)
				if len(res.Successful) == 0 {
					return fmt.Errorf("%d of %d files failed", len(res.Failed), len(items))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Re-process files that are already indexed")
	return cmd
}

func newSearchCmd(open opener) *cobra.Command {
	var (
		docID      string
		topK       int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find sections related to a passage",
		Example: `  docscope search "plants convert light into chemical energy"
  docscope search "glucose metabolism" --exclude 3f2a9c1b7d4e8a60 -k 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withDeps(cmd, open, func(deps app.Deps) error {
				resp, err := deps.Manager.SearchRelated(cmd.Context(), indexer.SearchRequest{
					SelectedText: text,
					CurrentDocID: docID,
					TopK:         topK,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), resp)
				}
				printSearch(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&docID, "exclude", "", "Document id to leave out of the results")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Maximum number of results (default from TOP_K_SECTIONS)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDocsCmd(open opener) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(deps app.Deps) error {
				docs, err := deps.Manager.ListDocuments(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), docs)
				}
				printDocs(cmd.OutOrStdout(), docs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newShowCmd(open opener) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <doc-id> [section-id]",
		Short: "Show a document's outline or one section",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(deps app.Deps) error {
				w := cmd.OutOrStdout()
				if len(args) == 2 {
					sec, err := deps.Manager.GetSection(cmd.Context(), args[0], args[1])
					if err != nil {
						return err
					}
					if jsonOutput {
						return writeJSON(w, sec)
					}
					st := stylesFor(w)
					fmt.Fprintln(w, st.Heading.Render(sec.Heading))
					fmt.Fprintln(w, st.Label.Render(fmt.Sprintf("%s  pages %d-%d  %d words", sec.ID, sec.StartPage, sec.EndPage, sec.WordCount)))
					fmt.Fprintln(w)
					fmt.Fprintln(w, sec.Content)
					return nil
				}

				doc, err := deps.Manager.GetDocument(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(w, doc)
				}
				st := stylesFor(w)
				fmt.Fprintln(w, st.Title.Render(doc.Title))
				fmt.Fprintln(w, st.Label.Render(fmt.Sprintf("%s  %s  %d pages", doc.ID, doc.Filename, doc.PageCount)))
				for _, sec := range doc.Sections {
					indent := strings.Repeat("  ", levelDepth(sec.Level))
					fmt.Fprintf(w, "%s%s %s\n", indent, st.Heading.Render(sec.Heading), st.Label.Render(fmt.Sprintf("(%s, p.%d)", sec.ID, sec.PageNum)))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDeleteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Remove a document and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(deps app.Deps) error {
				if err := deps.Manager.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, stylesFor(w).Success.Render("deleted "+args[0]))
				return nil
			})
		},
	}
}

const statsLabelWidth = 13

func newStatsCmd(open opener) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus and index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(deps app.Deps) error {
				stats, err := deps.Manager.Stats(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(w, stats)
				}
				st := stylesFor(w)
				rows := [][2]string{
					{"documents", fmt.Sprint(stats.TotalDocuments)},
					{"sections", fmt.Sprint(stats.TotalSections)},
					{"pages", fmt.Sprint(stats.TotalPages)},
					{"sections/doc", fmt.Sprintf("%.1f", stats.AverageSectionsPerDoc)},
					{"pages/doc", fmt.Sprintf("%.1f", stats.AveragePagesPerDoc)},
					{"vectors", fmt.Sprint(stats.IndexedVectors)},
					{"model", fmt.Sprintf("%s (%d dims)", stats.EmbeddingModel, stats.EmbeddingDim)},
					{"backend", stats.IndexBackend},
				}
				for _, r := range rows {
					fmt.Fprintf(w, "%s%s %s\n", st.Label.Render(r[0]), strings.Repeat(" ", statsLabelWidth-len(r[0])), r[1])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newRebuildCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-embed every stored section and rewrite the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, open, func(deps app.Deps) error {
				stats, err := deps.Manager.Rebuild(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				st := stylesFor(w)
				fmt.Fprintln(w, st.Success.Render(fmt.Sprintf("rebuilt index: %d sections embedded", stats.Embedded)))
				if stats.Skipped > 0 {
					fmt.Fprintln(w, st.Warning.Render(fmt.Sprintf("%d sections could not be embedded", stats.Skipped)))
				}
				return nil
			})
		},
	}
}

// collectPDFs expands directories to the PDFs they contain.
func collectPDFs(args []string) ([]indexer.BatchItem, error) {
	var items []indexer.BatchItem
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			items = append(items, indexer.BatchItem{Path: arg})
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				items = append(items, indexer.BatchItem{Path: filepath.Join(arg, e.Name())})
			}
		}
	}
	return items, nil
}

func levelDepth(level extractor.Level) int {
	switch level {
	case extractor.H2:
		return 1
	case extractor.H3:
		return 2
	default:
		return 0
	}
}

func printBatch(w io.Writer, res indexer.BatchResult) {
	st := stylesFor(w)
	for _, r := range res.Successful {
		line := fmt.Sprintf("%s  %s  %d sections, %d embedded", r.DocID, r.Filename, r.Sections, r.Embedded)
		if r.Duplicate {
			fmt.Fprintln(w, st.Warning.Render(line+" (already indexed)"))
			continue
		}
		fmt.Fprintln(w, st.Success.Render(line))
	}
	for _, f := range res.Failed {
		fmt.Fprintln(w, st.Warning.Render(fmt.Sprintf("failed  %s: %s", f.Filename, f.Error)))
	}
}

func printSearch(w io.Writer, resp indexer.SearchResponse) {
	st := stylesFor(w)
	if len(resp.RelatedSections) == 0 {
		fmt.Fprintln(w, st.Label.Render("no related sections"))
		return
	}
	for i, r := range resp.RelatedSections {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, st.Heading.Render(r.Heading), st.Label.Render(fmt.Sprintf("[%.2f %s]", r.SimilarityScore, r.RelevanceType)))
		fmt.Fprintf(w, "   %s %s\n", st.Title.Render(r.DocTitle), st.Label.Render(fmt.Sprintf("p.%d  %s", r.PageNum, r.SectionID)))
		if r.Snippet != "" {
			fmt.Fprintln(w, st.Snippet.Render(r.Snippet))
		}
	}
}

func printDocs(w io.Writer, docs []indexer.DocumentSummary) {
	st := stylesFor(w)
	if len(docs) == 0 {
		fmt.Fprintln(w, st.Label.Render("no documents indexed"))
		return
	}
	for _, d := range docs {
		fmt.Fprintf(w, "%s  %s %s\n", st.Label.Render(d.DocID), st.Title.Render(d.Title),
			st.Label.Render(fmt.Sprintf("(%d pages, %d sections)", d.PageCount, d.Sections)))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
