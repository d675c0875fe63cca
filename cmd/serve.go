package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/slicer/internal/logging"
	"github.com/kiesman99/slicer/internal/metrics"
	"github.com/kiesman99/slicer/internal/server"
	"github.com/kiesman99/slicer/pkg/tile"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for pyramid generation and tile serving",
	Long: `Start an HTTP server that slices images into tile pyramids on request and
serves the written tiles to map viewers.

Source images are read from --source-dir, pyramids are written below --root and
served at /tiles/{name}/{z}/{x}/{y}.{ext}. Prometheus metrics are exposed at
/metrics.

Examples:
  # Start server on default port 8080
  slicer serve

  # Serve pyramids from /srv/tiles, reading images from /srv/images
  slicer serve --root /srv/tiles --source-dir /srv/images

  # Start server with custom bind address
  slicer serve --bind 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 10*time.Minute, "request timeout, including pyramid generation")

	// Pyramid configuration
	serveCmd.Flags().String("root", tile.DefaultOutput, "directory pyramids are written to and served from")
	serveCmd.Flags().String("source-dir", ".", "directory source images are read from")
	serveCmd.Flags().Int("zoom-limit", server.DefaultZoomLimit, "highest max_zoom a request may ask for")
	serveCmd.Flags().Int("workers", 0, "concurrent column writers per request (default: number of CPUs)")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.root", serveCmd.Flags().Lookup("root"))
	viper.BindPFlag("server.source-dir", serveCmd.Flags().Lookup("source-dir"))
	viper.BindPFlag("server.zoom-limit", serveCmd.Flags().Lookup("zoom-limit"))
	viper.BindPFlag("server.workers", serveCmd.Flags().Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logging.New(cmd.ErrOrStderr(), viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return err
	}

	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apiServer := server.NewServer(version, server.Options{
		Root:      viper.GetString("server.root"),
		SourceDir: viper.GetString("server.source-dir"),
		ZoomLimit: viper.GetInt("server.zoom-limit"),
		Workers:   viper.GetInt("server.workers"),
		Logger:    log,
		Metrics:   metrics.New(reg),
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(apiServer, reg, timeout),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 30*time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		fmt.Fprintf(cmd.ErrOrStderr(), "\nShutting down server...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("server shutdown", "err", err)
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Starting slicer server on %s\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Health check: http://%s/api/v1/health\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Pyramid endpoint: http://%s/api/v1/pyramids\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Tiles: http://%s/tiles/{name}/%s\n", addr, tile.Layout)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
