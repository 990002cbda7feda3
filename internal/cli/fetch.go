package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssh-vom/boox-reader/internal/app"
	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/config"
	"github.com/ssh-vom/boox-reader/internal/library"
	"github.com/ssh-vom/boox-reader/internal/providers/manga"
	"github.com/ssh-vom/boox-reader/internal/providers/manga/gallery"
	"github.com/ssh-vom/boox-reader/internal/providers/manga/mangadex"
	"github.com/ssh-vom/boox-reader/internal/reader"
)

const galleryMangaID = "gallery"

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	MangaID      string
	ChapterID    string
	Galleries    []string
	Selector     string
	OutDir       string
	Upload       bool
	Title        string
	MaxChapters  int
	DataSaver    bool
	StallTimeout time.Duration
	NoHistory    bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Read chapters without the TUI and save them as CBZ",
		Long: `Read forward from a starting chapter, crossing into following chapters
the same way the interactive reader does, and save every chapter read.

Example:
  boox-reader fetch --manga <manga-id> --chapter <chapter-id> --max-chapters 3
  boox-reader fetch --gallery https://example.com/ch1,https://example.com/ch2 --out ./cbz
  boox-reader fetch --manga <manga-id> --upload --title "One Piece"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.MangaID, "manga", "", "MangaDex manga id")
	cmd.Flags().StringVar(&opts.ChapterID, "chapter", "", "MangaDex chapter id to start from (default first chapter)")
	cmd.Flags().StringSliceVar(&opts.Galleries, "gallery", nil, "gallery chapter page URLs, in reading order")
	cmd.Flags().StringVar(&opts.Selector, "selector", "", "CSS selector for gallery page images")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", ".", "directory for CBZ files")
	cmd.Flags().BoolVar(&opts.Upload, "upload", false, "upload chapters to the Boox device instead of writing files")
	cmd.Flags().StringVar(&opts.Title, "title", "", "folder name on the Boox device")
	cmd.Flags().IntVar(&opts.MaxChapters, "max-chapters", 1, "stop after this many chapters (0 reads to the end)")
	cmd.Flags().BoolVar(&opts.DataSaver, "data-saver", false, "fetch compressed pages where the source offers them")
	cmd.Flags().DurationVar(&opts.StallTimeout, "stall-timeout", 2*time.Minute, "give up when no page arrives for this long")
	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "do not record reading progress")
	cmd.MarkFlagsMutuallyExclusive("manga", "gallery")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *FetchOptions) error {
	if opts.MangaID == "" && len(opts.Galleries) == 0 {
		return errors.New("one of --manga or --gallery is required")
	}
	if opts.MaxChapters < 0 {
		return errors.New("--max-chapters must not be negative")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := newHTTPClient()
	readerOptions := reader.Options{
		LoaderOptions: reader.LoaderOptions{
			DataSaver:            opts.DataSaver || cfg.Reader.DataSaver,
			MaxConcurrentFetches: cfg.Reader.MaxConcurrentFetches,
			Logger:               logger,
		},
	}

	start, err := configureSource(ctx, &readerOptions, cfg, opts, httpClient, logger)
	if err != nil {
		return err
	}

	if !opts.NoHistory {
		store, err := openHistory(cfg)
		if err != nil {
			logger.Warn("reading history unavailable", "error", err)
		} else {
			defer store.Close()
			readerOptions.Hooks = store
		}
	}

	sink, err := fetchSink(cfg, opts, httpClient, logger)
	if err != nil {
		return err
	}

	walker := app.NewWalker(readerOptions, sink, app.WalkOptions{
		MaxChapters:  opts.MaxChapters,
		StallTimeout: opts.StallTimeout,
		Logger:       logger,
	})
	reports, err := walker.Walk(ctx, start)
	for _, report := range reports {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d pages\t%d missing\n", manga.FormatChapterLabel(report.Chapter), report.Pages, report.Missing)
	}
	return err
}

// configureSource fills in the delegate and directory and returns the first
// chapter to read.
func configureSource(ctx context.Context, readerOptions *reader.Options, cfg config.Config, opts *FetchOptions, httpClient *http.Client, logger *slog.Logger) (manga.Chapter, error) {
	if len(opts.Galleries) > 0 {
		selector := opts.Selector
		if selector == "" {
			selector = cfg.Providers.GallerySelector
		}
		chapters := galleryChapters(opts.Galleries)
		readerOptions.Source = gallery.New(httpClient, selector, logger)
		readerOptions.Directory = library.NewStatic(chapters)
		return chapters[0], nil
	}

	source := mangadex.New(httpClient, cfg.Providers.MangaDexAPIKey, mangadex.WithLogger(logger))
	directory := library.NewDirectory(source, library.DefaultTTL, logger)
	readerOptions.Source = source
	readerOptions.Directory = directory
	return startChapter(ctx, directory, opts.MangaID, opts.ChapterID)
}

func fetchSink(cfg config.Config, opts *FetchOptions, httpClient *http.Client, logger *slog.Logger) (app.ChapterSink, error) {
	if !opts.Upload {
		return app.DirSink{Dir: opts.OutDir}, nil
	}
	baseURL, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}
	client := boox.NewClient(baseURL, httpClient, boox.WithLogger(logger))
	return app.UploadSink{Uploader: client, MangaTitle: opts.Title, Logger: logger}, nil
}

// galleryChapters numbers gallery pages in the order given.
func galleryChapters(urls []string) []manga.Chapter {
	chapters := make([]manga.Chapter, 0, len(urls))
	for index, pageURL := range urls {
		chapters = append(chapters, manga.Chapter{
			ID:             pageURL,
			MangaID:        galleryMangaID,
			Number:         strconv.Itoa(index + 1),
			URL:            pageURL,
			NumericChapter: float64(index + 1),
		})
	}
	return chapters
}

type chapterLister interface {
	Chapters(ctx context.Context, mangaID string) ([]manga.Chapter, error)
}

// startChapter resolves chapterID against the manga's chapter list, or picks
// the first chapter when chapterID is empty.
func startChapter(ctx context.Context, directory chapterLister, mangaID, chapterID string) (manga.Chapter, error) {
	chapters, err := directory.Chapters(ctx, mangaID)
	if err != nil {
		return manga.Chapter{}, fmt.Errorf("listing chapters: %w", err)
	}
	if len(chapters) == 0 {
		return manga.Chapter{}, fmt.Errorf("manga %s has no readable chapters", mangaID)
	}
	if chapterID == "" {
		return chapters[0], nil
	}
	for _, chapter := range chapters {
		if chapter.ID == chapterID {
			return chapter, nil
		}
	}
	return manga.Chapter{}, fmt.Errorf("%w: %s", library.ErrChapterNotListed, chapterID)
}
