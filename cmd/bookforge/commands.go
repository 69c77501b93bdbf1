package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/bookforge/internal/archive"
	"github.com/kalambet/bookforge/internal/config"
	"github.com/kalambet/bookforge/internal/learning"
	"github.com/kalambet/bookforge/internal/pipeline"
	"github.com/kalambet/bookforge/internal/scraper"
	"github.com/kalambet/bookforge/internal/tui"
)

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process [url]",
	Short: "Rewrite a chapter and review the result",
	Long: `Scrape a chapter, rewrite it with the writer model and polish it with the
reviewer model. On a terminal the review screen opens afterwards.

Examples:
  bookforge process https://en.wikisource.org/wiki/Moby-Dick/Chapter_1
  bookforge process --content-file chapter.txt --style poetic --focus flow,tone
  bookforge process https://www.gutenberg.org/files/84/84-0.txt --no-review`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("content-file")
		style, _ := cmd.Flags().GetString("style")
		focus, _ := cmd.Flags().GetString("focus")
		title, _ := cmd.Flags().GetString("title")
		analyze, _ := cmd.Flags().GetBool("analyze")
		noReview, _ := cmd.Flags().GetBool("no-review")

		req := pipeline.Request{
			Style:      style,
			Title:      title,
			FocusAreas: splitList(focus),
			Analyze:    analyze,
		}
		if len(args) == 1 {
			req.URL = args[0]
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading content file: %w", err)
			}
			req.Content = string(data)
		}
		if req.URL == "" && strings.TrimSpace(req.Content) == "" {
			return errors.New("a url argument or --content-file is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Processing %s", sourceLabel(req))
		run, err := client.Process(cmd.Context(), req)
		if err != nil {
			return err
		}
		printSuccess("Run %s ready for feedback (%.1fs)", run.ID, run.ProcessingTime)
		for _, w := range run.Warnings {
			printWarning("%s", w)
		}

		if !noReview && stdoutIsTerminal() {
			return reviewRun(cmd.Context(), client, run)
		}
		printRunOutput(os.Stdout, run)
		printStep("Rate it with: bookforge rate %s good|bad", run.ID)
		return nil
	},
}

func init() {
	processCmd.Flags().String("content-file", "", "read the chapter from a file instead of scraping")
	processCmd.Flags().String("style", "", "processing style (default: the learned recommendation)")
	processCmd.Flags().String("focus", "", "comma-separated reviewer focus areas")
	processCmd.Flags().String("title", "", "chapter title")
	processCmd.Flags().Bool("analyze", false, "run content analysis on the source")
	processCmd.Flags().Bool("no-review", false, "print the output instead of opening the review screen")
}

func sourceLabel(req pipeline.Request) string {
	if req.URL != "" {
		return req.URL
	}
	return fmt.Sprintf("%d chars of content", len(req.Content))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// printRunOutput writes the reviewed text followed by run details.
func printRunOutput(w io.Writer, run pipeline.Run) {
	text := run.FinalText
	if text == "" {
		text = run.ReviewerOutput
	}
	fmt.Fprintln(w, text)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Run:"), run.ID)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "State:"), run.State)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Style:"), run.Style)
	if len(run.FocusAreas) > 0 {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Focus:"), strings.Join(run.FocusAreas, ", "))
	}
	if a := run.Analysis; a != nil {
		fmt.Fprintf(w, "%s %d words, %.1f min read", colorize(colorBold, "Analysis:"), a.WordCount, a.EstimatedReadingTime)
		if a.Genre != "" {
			fmt.Fprintf(w, ", %s", a.Genre)
		}
		if a.Tone != "" {
			fmt.Fprintf(w, ", %s tone", a.Tone)
		}
		fmt.Fprintln(w)
	}
	if run.FilePath != "" {
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Saved:"), run.FilePath)
	}
}

// reviewRun opens the review screen for a run held by the server.
func reviewRun(ctx context.Context, client *apiClient, run pipeline.Run) error {
	var sp tui.Speaker
	if cfg, err := config.Load(); err == nil {
		cs := newSpeechTask(cfg)
		if speakerAvailable(cfg) {
			sp = cs
			defer cs.Stop()
		}
	}

	result, saved, err := tui.Run(ctx, run, client, sp)
	if err != nil {
		return err
	}
	if !saved {
		printWarning("Closed without saving. Rate later with: bookforge rate %s good|bad", run.ID)
		return nil
	}
	if result.Rating != "" {
		printSuccess("Saved %s (rated %s)", result.FilePath, result.Rating)
	} else {
		printSuccess("Saved %s", result.FilePath)
	}
	return nil
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review <run-id>",
	Short: "Open the review screen for a run awaiting feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !stdoutIsTerminal() {
			return errors.New("review needs a terminal; use bookforge rate instead")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		run, err := client.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if run.State != pipeline.AwaitingFeedback {
			return fmt.Errorf("run %s is %s, not awaiting feedback", run.ID, run.State)
		}
		return reviewRun(cmd.Context(), client, run)
	},
}

// --- rate ---

var rateCmd = &cobra.Command{
	Use:   "rate <run-id> <good|bad>",
	Short: "Rate a processed run and save its final version",
	Long: `Rate a run awaiting feedback. The rating teaches the learner and the final
version is saved to disk.

Examples:
  bookforge rate 1b9d6bcd good
  bookforge rate 1b9d6bcd bad --notes "too flowery"
  bookforge rate 1b9d6bcd good --final-file edited.txt --quick`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		finalFile, _ := cmd.Flags().GetString("final-file")
		quick, _ := cmd.Flags().GetBool("quick")

		fb, err := buildFeedback(args[1], notes, quick)
		if err != nil {
			return err
		}
		if finalFile != "" {
			data, err := os.ReadFile(finalFile)
			if err != nil {
				return fmt.Errorf("reading final text: %w", err)
			}
			fb.FinalText = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		run, err := client.Submit(cmd.Context(), args[0], fb)
		if err != nil {
			return err
		}
		printSuccess("Rated run %s %s; saved %s", run.ID, run.Rating, run.FilePath)
		return nil
	},
}

func init() {
	rateCmd.Flags().String("notes", "", "feedback notes")
	rateCmd.Flags().String("final-file", "", "file holding your edited final text")
	rateCmd.Flags().Bool("quick", false, "save the short file layout")
}

func buildFeedback(rating, notes string, quick bool) (pipeline.Feedback, error) {
	r, err := learning.ParseRating(rating)
	if err != nil {
		return pipeline.Feedback{}, err
	}
	fb := pipeline.Feedback{Rating: r, Notes: notes, SaveType: archive.SaveComprehensive}
	if quick {
		fb.SaveType = archive.SaveQuick
	}
	return fb, nil
}

// --- suggestions / stats / reset ---

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Show the learned style and focus recommendations",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, _ := cmd.Flags().GetString("instructions")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if agent != "" {
			if _, err := learning.ParseAgent(agent); err != nil {
				return err
			}
			text, err := client.Instructions(cmd.Context(), agent)
			if err != nil {
				return err
			}
			if text == "" {
				fmt.Println("No adaptive instructions yet.")
				return nil
			}
			fmt.Println(text)
			return nil
		}

		sg, err := client.Suggestions(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(renderSuggestions(sg))
		return nil
	},
}

func init() {
	suggestionsCmd.Flags().String("instructions", "", "print the adaptive instructions for an agent (writer|reviewer)")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := client.Stats(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(renderStats(st))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget all learned preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL learned preferences. Use --confirm to proceed.")
			return nil
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.Reset(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Learning state reset")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "confirm the reset")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over saved chapters",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		results, err := client.Search(cmd.Context(), strings.Join(args, " "), n)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		fmt.Println(renderSearch(results))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntP("limit", "n", 5, "maximum number of results")
}

// --- chapters ---

var chaptersCmd = &cobra.Command{
	Use:   "chapters",
	Short: "List, show and manage saved chapters",
}

var chaptersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chapters, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		indexed, _ := cmd.Flags().GetBool("indexed")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		list := client.ListChapters
		if indexed {
			list = client.ListIndexed
		}
		chapters, err := list(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(chapters) == 0 {
			if indexed {
				fmt.Println("The chapter index is empty.")
				return nil
			}
			fmt.Println("No chapters saved yet.")
			return nil
		}
		fmt.Println(renderChapters(chapters))
		return nil
	},
}

var chaptersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved chapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ch, err := client.GetChapter(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printChapter(os.Stdout, ch)
		return nil
	},
}

var chaptersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved chapter and its index entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.DeleteChapter(cmd.Context(), args[0]); err != nil {
			return err
		}
		printSuccess("Deleted chapter %s", args[0])
		return nil
	},
}

var chaptersReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every indexed chapter",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Reindexing chapters...")
		n, err := client.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Reindexed %d chapters", n)
		return nil
	},
}

var chaptersFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "List final version files on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		entries, err := archive.NewWriter(cfg.Storage.DataDir).Recent(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No final versions saved yet.")
			return nil
		}
		fmt.Println(renderFiles(entries))
		return nil
	},
}

func init() {
	chaptersListCmd.Flags().Int("limit", 20, "maximum number of chapters")
	chaptersListCmd.Flags().Bool("indexed", false, "list what the search index holds instead of saved records")
	chaptersFilesCmd.Flags().Int("limit", 10, "maximum number of files (0 for all)")
	chaptersCmd.AddCommand(chaptersListCmd)
	chaptersCmd.AddCommand(chaptersShowCmd)
	chaptersCmd.AddCommand(chaptersDeleteCmd)
	chaptersCmd.AddCommand(chaptersReindexCmd)
	chaptersCmd.AddCommand(chaptersFilesCmd)
}

func printChapter(w io.Writer, ch chapterInfo) {
	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "%s %s\n", colorize(colorBold, label+":"), value)
		}
	}
	field("ID", ch.ID)
	field("Title", ch.Title)
	field("Source", ch.SourceURL)
	field("Saved", ch.CreatedAt.Local().Format(time.RFC1123))
	field("Style", ch.Style)
	field("Focus", strings.Join(ch.FocusAreas, ", "))
	field("Rating", ch.Rating)
	field("File", ch.FilePath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, ch.Content)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's texts, feedback and analysis as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		run, err := client.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		path, err := exportRun(archive.NewWriter(cfg.Storage.DataDir), run)
		if err != nil {
			return err
		}
		printSuccess("Exported run %s to %s", run.ID, path)
		return nil
	},
}

func exportRun(w *archive.Writer, run pipeline.Run) (string, error) {
	final := run.FinalText
	if final == "" {
		final = run.ReviewerOutput
	}
	var report any
	if run.Analysis != nil {
		report = run.Analysis
	}
	return w.Export(archive.Version{
		SourceURL:    run.SourceURL,
		Style:        run.Style,
		FocusAreas:   run.FocusAreas,
		Notes:        run.Notes,
		Original:     run.Original,
		WriterOutput: run.WriterOutput,
		FinalText:    final,
	}, report)
}

// --- scrape ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape [url]",
	Short: "Fetch a chapter without rewriting it",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		latest, _ := cmd.Flags().GetBool("latest")
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var res scraper.Result
		switch {
		case latest:
			res, err = scraper.LoadLatest(cfg.Storage.DataDir)
			if err != nil {
				return err
			}
		case len(args) == 1:
			setupLogging(cfg)
			printStep("Scraping %s", args[0])
			res = newScraper(cfg).Scrape(cmd.Context(), args[0])
		default:
			return errors.New("a url argument or --latest is required")
		}

		if !res.OK() {
			return fmt.Errorf("scrape failed: %s", res.Error)
		}
		printStatus("Title", "%s", res.Title)
		printStatus("Words", "%d", res.WordCount)
		if res.Method != "" {
			printStatus("Method", "%s", res.Method)
		}
		fmt.Println(res.Content)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().Bool("latest", false, "print the last successful scrape")
}

// --- speak ---

var speakCmd = &cobra.Command{
	Use:   "speak [text]",
	Short: "Read text aloud with the configured speech command",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		text := strings.Join(args, " ")
		if file != "" {
			var data []byte
			var err error
			if file == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("reading text: %w", err)
			}
			text = string(data)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !speakerAvailable(cfg) {
			return fmt.Errorf("speech command %q not found", cfg.Speech.Command)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return speakUntilDone(ctx, newSpeechTask(cfg), text, 100*time.Millisecond)
	},
}

func init() {
	speakCmd.Flags().String("file", "", "read the text from a file (- for stdin)")
}

// speaker is the part of speech.Task the speak command drives.
type speaker interface {
	Start(text string) error
	Stop()
	IsRunning() bool
}

// speakUntilDone starts sp and blocks until it finishes or ctx is done, in
// which case speech is stopped.
func speakUntilDone(ctx context.Context, sp speaker, text string, poll time.Duration) error {
	if err := sp.Start(text); err != nil {
		return err
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sp.Stop()
			printWarning("Speech stopped")
			return nil
		case <-ticker.C:
			if !sp.IsRunning() {
				return nil
			}
		}
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		printConfig(os.Stdout, config.ShowAll(cfg))
		printStep("Config file: %s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if isSecretKey(key) {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func printConfig(w io.Writer, keys []config.KeyInfo) {
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
	}
}

func isSecretKey(key string) bool {
	for _, k := range config.ShowAll(config.Config{}) {
		if k.Key == key {
			return k.Secret
		}
	}
	return false
}
