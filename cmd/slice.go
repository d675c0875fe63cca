package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/slicer/internal/logging"
	"github.com/kiesman99/slicer/internal/pyramid"
	"github.com/kiesman99/slicer/internal/sink"
	"github.com/kiesman99/slicer/pkg/tile"
)

func runSlice(cmd *cobra.Command, args []string) error {
	log, err := logging.New(cmd.ErrOrStderr(), viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromViper(viper.GetViper())
	if err != nil {
		return err
	}

	source := viper.GetString("source")
	if len(args) == 1 {
		source = args[0]
	}

	// Without a source everything is asked for, in the order the image is
	// needed: it is loaded before the zoom level is requested.
	var p *prompter
	if source == "" {
		p = newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
		if source, err = p.source(); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Attempting to load image: '%s'... (Large images could take a moment)\n", source)
	src, err := tile.Load(source)
	if err != nil {
		return err
	}
	log.Info("image loaded", "path", source, "width", src.Width(), "height", src.Height(), "format", src.Format())

	if p != nil {
		if cfg.MaxZoom, err = p.maxZoom(); err != nil {
			return err
		}
		ext, err := p.extension()
		if err != nil {
			return err
		}
		if cfg, err = cfg.WithExtension(ext); err != nil {
			return err
		}
	}

	out, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}

	gen, err := pyramid.New(cfg, out, pyramid.WithLogger(log))
	if err != nil {
		return err
	}

	report, err := gen.Generate(ctx, src)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tiling complete: %d tiles in %d zoom levels (%s).\n",
		report.Tiles(), len(report.Levels), report.Duration.Round(time.Millisecond))
	return nil
}

// configFromViper builds the pyramid configuration. Keys that are not set
// keep the values of tile.DefaultConfig.
func configFromViper(v *viper.Viper) (tile.Config, error) {
	cfg := tile.DefaultConfig()

	if v.IsSet("format") {
		var err error
		if cfg, err = cfg.WithExtension(v.GetString("format")); err != nil {
			return cfg, err
		}
	}
	if v.IsSet("output") {
		cfg.OutputRoot = v.GetString("output")
	}
	if v.IsSet("max-zoom") {
		cfg.MaxZoom = v.GetInt("max-zoom")
	}
	if v.IsSet("quality") {
		cfg.Quality = v.GetInt("quality")
	}
	if v.IsSet("filter") {
		cfg.Filter = v.GetString("filter")
	}
	if w := v.GetInt("workers"); w > 0 {
		cfg.Workers = w
	}
	if v.IsSet("parallel-threshold") {
		cfg.ParallelThreshold = v.GetInt("parallel-threshold")
	}
	cfg.ContinueOnError = v.GetBool("continue-on-error")

	return cfg, nil
}

// buildSink returns the directory sink, the storage sink or both.
func buildSink(ctx context.Context, cfg tile.Config) (sink.Sink, error) {
	var sinks sink.Tee
	if cfg.OutputRoot != "" {
		sinks = append(sinks, sink.NewDir(cfg.OutputRoot))
	}

	if bucket := viper.GetString("storage-bucket"); bucket != "" {
		keypath := viper.GetString("storage-key")
		if keypath == "" {
			return nil, errors.New("--storage-bucket requires --storage-key")
		}
		client, err := sink.NewStorageClient(keypath, version)
		if err != nil {
			return nil, err
		}
		b, err := sink.NewBucket(ctx, client, bucket, viper.GetString("storage-prefix"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, b)
	}

	switch len(sinks) {
	case 0:
		return nil, errors.New("no output: set --output or --storage-bucket")
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
