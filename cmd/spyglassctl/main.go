// Command spyglassctl is the debug CLI for an already-running (or at
// least already-provisioned) Spyglass data directory: it opens the store
// and index directly, rather than going through the RPC surface, so it
// still works when the daemon itself won't start.
//
// Grounded on _examples/original_source's debug binary (crawl-details,
// get-document-details, explain-query, load-archive), reworked from
// clap subcommands onto cobra, the pack's CLI library of choice.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/config"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "spyglassctl",
		Short:         "Debug tool for inspecting a Spyglass data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCrawlDetailsCmd(), newGetDocumentDetailsCmd(), newExplainQueryCmd(), newLoadArchiveCmd())

	return root
}

// openStore opens the store and index at the configured data directory.
// Every subcommand needs both, so this is the one shared setup path.
func openStore(ctx context.Context) (*store.Store, *searchindex.Index, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := zerolog.Nop()

	s, err := store.New(ctx, cfg.DBPath(), &logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	idx, _, err := searchindex.Open(cfg.IndexDir())
	if err != nil {
		s.Close()
		return nil, nil, nil, fmt.Errorf("open index: %w", err)
	}

	return s, idx, cfg, nil
}

func newCrawlDetailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl-details <id>",
		Short: "Print a crawl_queue row and its queue stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, idx, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer s.Close()

			stats, err := s.CrawlQueueStats(ctx)
			if err != nil {
				return fmt.Errorf("crawl queue stats: %w", err)
			}

			task, err := s.GetCrawlTask(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get crawl task %s: %w", args[0], err)
			}

			fmt.Println("## Queue Stats ##")
			printJSON(stats)

			fmt.Println("## Crawl Task ##")
			printJSON(task)

			return nil
		},
	}
}

func newGetDocumentDetailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-document-details <id|url>",
		Short: "Print a document's store row, tags, and indexed representation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, idx, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer s.Close()

			doc, err := resolveDocument(ctx, s, args[0])
			if err != nil {
				return err
			}

			tags, err := s.TagsForDocument(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("tags for document: %w", err)
			}

			indexed, err := idx.Contains(doc.ID)
			if err != nil {
				return fmt.Errorf("check index: %w", err)
			}

			fmt.Println("## Document ##")
			printJSON(doc)

			fmt.Println("## Tags ##")
			printJSON(tags)

			fmt.Printf("## Indexed: %v ##\n", indexed)

			return nil
		},
	}
}

func newExplainQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain-query <id|url> <query>",
		Short: "Explain whether and why a document matches a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, idx, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer s.Close()

			doc, err := resolveDocument(ctx, s, args[0])
			if err != nil {
				return err
			}

			logger := zerolog.Nop()
			engine := query.New(s, idx, nil, &logger)

			result, err := engine.Explain(ctx, query.Request{QueryString: args[1]}, doc.ID)
			if err != nil {
				return fmt.Errorf("explain query: %w", err)
			}

			fmt.Printf("Query %q for document %q\n", args[1], args[0])
			printJSON(result)

			return nil
		},
	}
}

func newLoadArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-archive <name> <path>",
		Short: "Bulk-load a newline-delimited-JSON archive of documents, tagged with a lens name",
		Long: `Each line of the archive file is a JSON object {"url", "title", "content"}.
Every loaded document is tagged (lens=<name>), the same tag install_lens attaches,
so the archive's contents show up under that lens's filter.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			name, path := args[0], args[1]

			s, idx, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()
			defer s.Close()

			logger := zerolog.Nop()
			writer := docwriter.New(s, idx, &logger)

			n, err := loadArchive(ctx, writer, name, path)
			if err != nil {
				return err
			}

			fmt.Printf("loaded %d document(s) from %s under lens %q\n", n, path, name)

			return nil
		},
	}
}

type archiveRecord struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func loadArchive(ctx context.Context, writer *docwriter.Writer, lensName, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	count := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec archiveRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return count, fmt.Errorf("parse archive record %d: %w", count+1, err)
		}

		if rec.URL == "" {
			return count, fmt.Errorf("archive record %d is missing a url", count+1)
		}

		doc := &docwriter.LocalDocument{
			ID:      urlnorm.DocID(rec.URL),
			URL:     rec.URL,
			Title:   rec.Title,
			Content: rec.Content,
			Tags:    [][2]string{{"lens", lensName}},
		}

		if err := writer.WriteLocalDocument(ctx, doc); err != nil {
			return count, fmt.Errorf("write archive record %d: %w", count+1, err)
		}

		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("scan archive: %w", err)
	}

	return count, nil
}

// resolveDocument looks a document up by id, falling back to canonical-url
// lookup when idOrURL looks like a URL, mirroring the teacher CLI's
// DocumentIdentifier dispatch.
func resolveDocument(ctx context.Context, s *store.Store, idOrURL string) (*store.Document, error) {
	if strings.Contains(idOrURL, "://") {
		doc, err := s.GetDocumentByURL(ctx, idOrURL)
		if err != nil {
			return nil, fmt.Errorf("get document by url %s: %w", idOrURL, err)
		}

		return doc, nil
	}

	doc, err := s.GetDocument(ctx, idOrURL)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", idOrURL, err)
	}

	return doc, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
