package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsfeed/ingest"
	srtingest "github.com/zsiec/tsfeed/ingest/srt"
	"github.com/zsiec/tsfeed/media"
	"github.com/zsiec/tsfeed/source"
)

var version = "dev"

func main() {
	filePath := flag.String("file", "", "demux a local MPEG-TS file instead of listening for SRT")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if *filePath != "" {
		if err := runFile(ctx, *filePath); err != nil {
			slog.Error("file demux failed", "error", err)
			os.Exit(1)
		}
		return
	}

	srtAddr := envOr("SRT_ADDR", ":6000")
	slog.Info("tsfeed starting", "version", version, "srt", srtAddr)

	g, ctx := errgroup.WithContext(ctx)

	// The registry callback captures the errgroup-derived context so pumps
	// stop when the server does.
	registry := ingest.NewRegistry(func(s *ingest.Session) {
		pump(ctx, s.Source, slog.With("stream", s.Key))
	}, nil)

	srv := srtingest.NewServer(srtAddr, registry, nil)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func runFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	l := source.NewListener()
	src := source.New(l, slog.With("stream", path))

	go func() {
		if _, err := io.Copy(l, f); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			slog.Warn("file read failed", "error", err)
		}
		l.CloseWrite(nil)
	}()

	pump(ctx, src, slog.With("stream", path))
	return nil
}

// pump stands in for the playback engine that would normally drive the
// source: it feeds in bounded batches and drains every track, counting
// access units.
func pump(ctx context.Context, src *source.Source, log *slog.Logger) {
	src.Start()

	tracks := []media.TrackType{media.TrackVideo, media.TrackAudio, media.TrackCaptions}
	counts := make(map[media.TrackType]int)

	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	feeding := true
	for {
		select {
		case <-ctx.Done():
			return

		case <-report.C:
			log.Info("access units",
				"video", counts[media.TrackVideo],
				"audio", counts[media.TrackAudio],
				"captions", counts[media.TrackCaptions],
				"state", src.State().String(),
			)

		case <-tick.C:
			if feeding {
				feeding = src.FeedMore()
			}
			for _, t := range tracks {
				for {
					if _, err := src.Dequeue(t); err != nil {
						break
					}
					counts[t]++
				}
			}
			if src.State() == source.StateDone {
				log.Info("stream complete",
					"video", counts[media.TrackVideo],
					"audio", counts[media.TrackAudio],
					"captions", counts[media.TrackCaptions],
				)
				return
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
