// shiurgen generates multi-source halachic study guides: it aligns a
// paragraph of the Shulchan Arukh with its sources in the Tur and Beit
// Yosef, explains every passage through a model cascade, and consolidates
// the results into one summary. Every costly step is memoized in a shared
// persistent store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shiurgen/internal/alignment"
	"shiurgen/internal/config"
	"shiurgen/internal/explain"
	"shiurgen/internal/guide"
	"shiurgen/internal/llm"
	"shiurgen/internal/logging"
	"shiurgen/internal/sefaria"
	"shiurgen/internal/store"
	"shiurgen/internal/summary"
)

var (
	flagSection   string
	flagChapter   string
	flagParagraph string
	flagCorpora   []string
	flagVerbose   bool
	flagJSON      bool
)

var rootCmd = &cobra.Command{
	Use:   "shiurgen",
	Short: "shiurgen - multi-source halachic study guide generator",
	Long: `shiurgen builds study guides for a paragraph of the Shulchan Arukh.

It fetches the paragraph and its aligned sources (Tur, Beit Yosef) from a
Sefaria-compatible API, explains each passage in Hebrew through a model
cascade, and consolidates everything into a structured summary. Alignments,
explanations and finished guides are memoized in a shared store, so repeated
requests are served without re-invoking the provider or the model.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if flagVerbose {
			level = "debug"
		}
		return logging.Init(level, flagJSON)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json-logs", false, "JSON log output")

	rootCmd.AddCommand(generateCmd, alignCmd, chaptersCmd, cancelCmd)
	for _, c := range []*cobra.Command{generateCmd, alignCmd, chaptersCmd, cancelCmd} {
		c.Flags().StringVarP(&flagSection, "section", "s", "Orach Chayim", "section (Orach Chayim, Yoreh De'ah, Even HaEzer, Choshen Mishpat)")
	}
	for _, c := range []*cobra.Command{generateCmd, alignCmd, cancelCmd} {
		c.Flags().StringVarP(&flagChapter, "chapter", "c", "", "chapter (siman), decimal or Hebrew numeral")
		_ = c.MarkFlagRequired("chapter")
	}
	for _, c := range []*cobra.Command{generateCmd, cancelCmd} {
		c.Flags().StringVarP(&flagParagraph, "paragraph", "p", "", "paragraph (seif), decimal or Hebrew numeral")
		c.Flags().StringSliceVar(&flagCorpora, "corpora", []string{"shulchan_aruch", "tur", "beit_yosef", "mishnah_berurah"}, "corpora to draw from")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// buildPipeline constructs the orchestrator and its collaborators from the
// effective configuration.
func buildPipeline(ctx context.Context) (*guide.Orchestrator, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	gen, err := llm.NewGemini(ctx, cfg.LLM.APIKey)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("create model client: %w", err)
	}
	provider := sefaria.NewClient(cfg.Sefaria.BaseURL)
	aligner := alignment.New(st, provider, cfg.LLM.Timeouts)
	memoizer := explain.New(st, gen, cfg.LLM, cfg.Limits.HebrewRatioThreshold)
	producer := summary.New(gen, cfg.LLM, cfg.Limits.HebrewRatioThreshold)
	orch := guide.NewOrchestrator(cfg, st, provider, aligner, memoizer, producer)
	return orch, st, nil
}

// parseRequest turns the shared flags into a guide request.
func parseRequest() (guide.Request, error) {
	var req guide.Request
	section, err := corpusSection()
	if err != nil {
		return req, err
	}
	chapter, err := parseNumberFlag(flagChapter, "chapter")
	if err != nil {
		return req, err
	}
	req = guide.Request{Section: section, Chapter: chapter}
	if flagParagraph != "" {
		para, err := parseNumberFlag(flagParagraph, "paragraph")
		if err != nil {
			return req, err
		}
		req.Paragraph = para
	}
	for _, name := range flagCorpora {
		id, err := corpusID(name)
		if err != nil {
			return req, err
		}
		req.Corpora = append(req.Corpora, id)
	}
	return req, nil
}
