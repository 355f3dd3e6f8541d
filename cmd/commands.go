package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"drivecast/internal"
	"drivecast/provider"
	"drivecast/server"
	"drivecast/utils"
)

var (
	outputPath string
	rangeSpec  string
	listenAddr string
	force      bool
)

var albumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "List the albums in the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		albums := p.Albums()
		for _, album := range albums {
			fmt.Println(album)
		}
		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "📚 %d albums\n", len(albums))
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <album> <disc> <track>",
	Short: "Show size and duration of a track",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		album, disc, track, err := parseTrackArgs(args)
		if err != nil {
			return report(err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		info, err := p.GetAudioInfo(ctx, album, disc, track)
		if err != nil {
			return report(err)
		}

		fmt.Printf("📄 Track: %s/%d/%d.%s\n", album, disc, track, info.Extension)
		fmt.Printf("📏 Size: %s (%d bytes)\n", utils.FormatBytes(info.Size), info.Size)
		fmt.Printf("⏱️  Duration: %s (%d ms, %s)\n", utils.FormatDuration(info.Duration), info.Duration, p.Strategy().Name())
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <album> <disc> <track>",
	Short: "Download a track, or a byte range of it",
	Long: `Download a track to a local file. The file is written to a .part file
first and renamed once the transfer completes.

Examples:
  drivecast fetch 0f8fad5b-d9cb-469f-a165-70867728950e 1 3
  drivecast fetch -o head.bin --range 0-65535 0f8fad5b-d9cb-469f-a165-70867728950e 1 3`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		album, disc, track, err := parseTrackArgs(args)
		if err != nil {
			return report(err)
		}
		rng, err := parseRangeFlag(rangeSpec)
		if err != nil {
			return report(err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		res, err := p.GetAudio(ctx, album, disc, track, rng)
		if err != nil {
			return report(err)
		}
		defer res.Body.Close()

		output := outputPath
		if output == "" {
			output = defaultTrackName(album, disc, track, res.Info.Extension)
		}

		total := res.Info.Size
		if n, ok := res.Range.Length(); ok {
			total = int64(n)
		} else if res.Range.Start > 0 {
			total -= int64(res.Range.Start)
		}
		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "📥 Fetching %s/%d/%d (window %s)\n", album, disc, track, res.Range)
			if res.Info.Duration > 0 {
				fmt.Fprintf(os.Stderr, "⏱️  Duration: %s\n", utils.FormatDuration(res.Info.Duration))
			}
		}

		if err := writeAtomically(output, res.Body, total, force); err != nil {
			return report(err)
		}

		internal.LogInfo("Fetched %s/%d/%d to %s", album, disc, track, output)
		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "✅ Saved to %s\n", output)
		}
		return nil
	},
}

var coverCmd = &cobra.Command{
	Use:   "cover <album> [disc]",
	Short: "Download an album or disc cover",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		album := args[0]
		var disc uint8
		if len(args) == 2 {
			n, err := parseNumber("disc", args[1])
			if err != nil {
				return report(err)
			}
			disc = n
		}

		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		body, err := p.GetCover(ctx, album, disc)
		if err != nil {
			return report(err)
		}
		defer body.Close()

		output := outputPath
		if output == "" {
			output = defaultCoverName(album, disc)
		}
		if err := writeAtomically(output, body, 0, force); err != nil {
			return report(err)
		}

		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "✅ Saved to %s\n", output)
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan [album...]",
	Short: "Walk albums and report track counts and durations",
	Long: `Walk every disc and track of the given albums, or of the whole catalog,
and report how many tracks each holds and their total playing time. Albums
are scanned concurrently (scan_concurrency, env DRIVECAST_SCAN_CONCURRENCY).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		albums := args
		if len(albums) == 0 {
			albums = p.Albums()
		}

		results, err := scanAlbums(ctx, p, albums, config.ScanConcurrency)
		if err != nil {
			return report(err)
		}

		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("%s\t❌ %v\n", r.Album, r.Err)
				continue
			}
			fmt.Printf("%s\t%d discs\t%d tracks\t%s\t%s\n", r.Album, r.Discs, r.Tracks,
				utils.FormatDuration(r.Duration), utils.FormatBytes(r.Size))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d albums failed to scan", failed, len(results))
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the catalog over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := openProvider(ctx)
		if err != nil {
			return report(err)
		}

		addr := config.ListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}
		if !config.QuietMode {
			fmt.Fprintf(os.Stderr, "🎵 Serving %d albums on http://%s\n", len(p.Albums()), addr)
		}
		return server.New(p, internal.GetLogger()).ListenAndServe(ctx, addr)
	},
}

// albumScan is the outcome of scanning one album
type albumScan struct {
	Album    string
	Discs    int
	Tracks   int
	Duration uint64
	Size     int64
	Err      error
}

// scanAlbums walks each album's discs and tracks in order until a number is
// missing. Albums are scanned concurrently, at most limit at a time.
// Per-album failures are recorded in the result; only cancellation aborts
// the whole scan.
func scanAlbums(ctx context.Context, p *provider.Provider, albums []string, limit int) ([]albumScan, error) {
	results := make([]albumScan, len(albums))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, album := range albums {
		g.Go(func() error {
			r := scanAlbum(gctx, p, album)
			if err := gctx.Err(); err != nil {
				return err
			}

			results[i] = r
			internal.LogDebug("scanned %s: %d tracks", album, r.Tracks)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func scanAlbum(ctx context.Context, p *provider.Provider, album string) albumScan {
	r := albumScan{Album: album}

	for disc := 1; disc <= 255; disc++ {
		tracks := 0
		for track := 1; track <= 255; track++ {
			info, err := p.GetAudioInfo(ctx, album, uint8(disc), uint8(track))
			if internal.IsType(err, internal.ErrNotFound) {
				break
			}
			if err != nil {
				r.Err = err
				return r
			}
			tracks++
			r.Duration += info.Duration
			r.Size += info.Size
		}
		if tracks == 0 {
			break
		}
		r.Discs++
		r.Tracks += tracks
	}

	if r.Tracks == 0 {
		r.Err = internal.NewNotFoundError("tracks").WithContext("album", album)
	}
	return r
}

// writeAtomically copies src into a .part file next to path, showing
// progress, and renames it into place once complete. An existing file at
// path is only replaced when overwrite is set. When total is positive the
// written size must match it.
func writeAtomically(path string, src io.Reader, total int64, overwrite bool) error {
	ops := utils.NewFileOperations()
	if !overwrite && ops.FileExists(path) {
		return internal.NewValidationErrorWithValue("output", "file already exists", path).
			WithSuggestion("Pass --force to overwrite it, or choose another path with -o")
	}

	part, err := ops.CreatePartFile(path)
	if err != nil {
		return err
	}
	defer part.Discard()

	tracker := utils.NewProgressTracker(total, config.QuietMode)
	tracker.SetFilename(path)

	if _, err := io.Copy(io.MultiWriter(part, tracker), src); err != nil {
		tracker.Finish()
		return internal.WrapError(err, "transfer interrupted", internal.ErrBackend)
	}
	tracker.Finish()

	if total > 0 {
		size, err := ops.GetFileSize(part.Name())
		if err != nil {
			return internal.WrapError(err, "failed to stat partial file", internal.ErrBackend)
		}
		if size != total {
			return internal.NewBackendError(0, "transfer incomplete").
				WithContext("expected", total).
				WithContext("received", size)
		}
	}

	return part.Commit()
}

func parseTrackArgs(args []string) (album string, disc, track uint8, err error) {
	album = args[0]
	if disc, err = parseNumber("disc", args[1]); err != nil {
		return "", 0, 0, err
	}
	if track, err = parseNumber("track", args[2]); err != nil {
		return "", 0, 0, err
	}
	return album, disc, track, nil
}

func parseNumber(field, raw string) (uint8, error) {
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		return 0, internal.NewValidationErrorWithValue(field, "must be a number between 0 and 255", raw)
	}
	return uint8(n), nil
}

// parseRangeFlag accepts "start-end" or "start-"; empty means the whole
// track
func parseRangeFlag(spec string) (internal.Range, error) {
	if spec == "" {
		return internal.FullRange, nil
	}
	rng, err := internal.ParseRangeHeader("bytes=" + spec)
	if err != nil {
		if ve, ok := err.(*internal.ValidationError); ok {
			return internal.FullRange, ve.WithSuggestion("Use --range START-END or --range START-, e.g. --range 0-65535")
		}
		return internal.FullRange, err
	}
	return rng, nil
}

func defaultTrackName(album string, disc, track uint8, ext string) string {
	return fmt.Sprintf("%s-%d-%02d.%s", album, disc, track, ext)
}

func defaultCoverName(album string, disc uint8) string {
	if disc == 0 {
		return album + "-cover.jpg"
	}
	return fmt.Sprintf("%s-%d-cover.jpg", album, disc)
}

func init() {
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: {album}-{disc}-{track}.{codec})")
	fetchCmd.Flags().StringVar(&rangeSpec, "range", "", "Byte range to fetch, START-END or START-")
	fetchCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing output file")
	coverCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: {album}-cover.jpg)")
	coverCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing output file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (env: DRIVECAST_LISTEN)")
}
