package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"shiurgen/internal/alignment"
	"shiurgen/internal/config"
	"shiurgen/internal/corpus"
	"shiurgen/internal/sefaria"
	"shiurgen/internal/store"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate (or load) the study guide for a location",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		req, err := parseRequest()
		if err != nil {
			return err
		}
		orch, st, err := buildPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		outcome := orch.Generate(ctx, req)
		switch {
		case outcome.Cancelled:
			fmt.Println("generation cancelled")
			return nil
		case !outcome.Success:
			return fmt.Errorf("%s", outcome.Error)
		}

		fmt.Printf("# %s\n\n", req.Section)
		for _, ch := range outcome.Chunks {
			fmt.Printf("## %s %d\n%s\n\n", corpus.Meta(ch.Corpus).Label, ch.Ordinal, ch.Explanation)
		}
		fmt.Printf("## סיכום\n%s\n", outcome.Guide.SummaryText)
		if !outcome.Guide.Validated {
			fmt.Fprintln(os.Stderr, "note: some outputs did not pass validation")
		}
		return nil
	},
}

var alignCmd = &cobra.Command{
	Use:   "align",
	Short: "Build or inspect the chapter alignment",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		section, err := corpusSection()
		if err != nil {
			return err
		}
		chapter, err := parseNumberFlag(flagChapter, "chapter")
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := alignment.New(st, sefaria.NewClient(cfg.Sefaria.BaseURL), cfg.LLM.Timeouts)
		rec, err := engine.Get(ctx, section, chapter)
		if err != nil {
			return err
		}

		paras := make([]int, 0, len(rec.ParagraphMap))
		for k := range rec.ParagraphMap {
			if n, err := strconv.Atoi(k); err == nil {
				paras = append(paras, n)
			}
		}
		sort.Ints(paras)
		for _, p := range paras {
			pa := rec.ParagraphMap[strconv.Itoa(p)]
			out, _ := json.MarshalIndent(pa, "", "  ")
			fmt.Printf("paragraph %d (confidence %.3f):\n%s\n", p, pa.Confidence, out)
		}
		return nil
	},
}

var chaptersCmd = &cobra.Command{
	Use:   "chapters",
	Short: "Print the chapter count of a section",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		section, err := corpusSection()
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		n, err := sefaria.NewClient(cfg.Sefaria.BaseURL).ChapterCount(ctx, corpus.ShulchanAruch, section)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d chapters\n", section, n)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Set the cancellation flag for a running generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := parseRequest()
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Cancel(req.Fingerprint()); err != nil {
			return err
		}
		fmt.Println("cancellation requested")
		return nil
	},
}

func corpusSection() (corpus.Section, error) {
	return corpus.ParseSection(flagSection)
}

func corpusID(name string) (corpus.ID, error) {
	return corpus.Parse(name)
}

func parseNumberFlag(value, name string) (int, error) {
	n, err := corpus.ParseNumber(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return n, nil
}
