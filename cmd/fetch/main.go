// Command fetch downloads a single URL into a file, optionally resuming a partial download.
//
//	fetch [-resume] [-connect-timeout 10s] [-read-timeout 40s] <url> <destination>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
)

var errUsage = errors.New("usage: fetch [-resume] [-connect-timeout d] [-read-timeout d] <url> <destination>")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "fetch:", err)
		}

		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("fetch", flag.ContinueOnError)
	flags.SetOutput(stderr)

	resume := flags.Bool("resume", false, "append to an existing destination instead of replacing it")
	connectTimeout := flags.Duration("connect-timeout", transfer.DefaultConnectTimeout, "connect timeout")
	readTimeout := flags.Duration("read-timeout", transfer.DefaultReadTimeout, "read timeout")
	verbose := flags.Bool("v", false, "log debug output")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if flags.NArg() != 2 {
		return errUsage
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	ctx = logctx.WithLogger(ctx, logger)

	cfg := transfer.DefaultConfig()
	cfg.ConnectTimeout = *connectTimeout
	cfg.ReadTimeout = *readTimeout

	req := transfer.Request{URL: flags.Arg(0), Destination: flags.Arg(1), Resume: *resume}
	bar := &barListener{out: stderr, description: req.Destination}

	start := time.Now()

	written, err := transfer.NewClient(cfg, afero.NewOsFs()).Fetch(ctx, req, bar)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: %s written in %s\n",
		req.Destination, humanize.Bytes(uint64(written)), time.Since(start).Round(time.Millisecond))

	return nil
}

// barListener renders wire progress on a terminal progress bar. The bar is created on the
// first chunk, once the response length is known; unknown lengths render a spinner.
type barListener struct {
	out         io.Writer
	description string
	bar         *progressbar.ProgressBar
}

func (b *barListener) OnProgress(p transfer.Progress) {
	if b.bar == nil {
		b.bar = progressbar.NewOptions64(p.Total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(b.description),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	_ = b.bar.Set64(p.Received)
}

func (b *barListener) OnComplete(string) {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}

func (b *barListener) OnFailure(error) {
	if b.bar != nil {
		_ = b.bar.Exit()
	}
}
