package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/slicer/internal/raster"
	"github.com/kiesman99/slicer/pkg/tile"
)

var (
	cfgFile string

	// version is overridden at build time with -ldflags "-X".
	version = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "slicer [image]",
	Short: "Slice a large image into a zoomable tile pyramid",
	Long: `slicer cuts one large image into the {z}/{x}/{y}.{ext} tile pyramid used by
slippy-map and deep-zoom viewers such as Leaflet.

For every zoom level from 0 to --max-zoom the image is resampled to a square of
256*2^zoom pixels and cut into 256x256 tiles. Tiles on the right and bottom edge
are padded with transparent black. Without an image argument the tool asks for
the image, the maximum zoom level and the tile format.

Examples:
  # Ask for everything interactively
  slicer

  # Zoom levels 0-6 as PNG below ./tiles
  slicer map.png --max-zoom 6 --format png

  # Write to object storage as well as to disk
  slicer map.tif -z 8 --storage-key ~/.s3-key --storage-bucket maps --storage-prefix world

  # Start HTTP server
  slicer serve --port 8080`,
	Version:       version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runSlice,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.slicer.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text|json)")

	// Input and pyramid options
	rootCmd.Flags().StringP("source", "s", "", "source image (asked for when empty)")
	rootCmd.Flags().IntP("max-zoom", "z", 0, fmt.Sprintf("highest zoom level to write (0-%d)", tile.MaxZoom))
	rootCmd.Flags().StringP("format", "f", tile.DefaultExtension, "tile format (jpg|png|gif|tiff|bmp|webp)")
	rootCmd.Flags().IntP("quality", "q", tile.DefaultQuality, "JPEG quality (1-100)")
	rootCmd.Flags().String("filter", tile.DefaultFilter, "resample filter ("+strings.Join(raster.FilterNames(), "|")+")")

	// Output options
	rootCmd.Flags().StringP("output", "o", tile.DefaultOutput, "output directory (empty to write to storage only)")
	rootCmd.Flags().String("storage-key", "", "JSON key file with Endpoint, Key and Secret for S3-compatible storage")
	rootCmd.Flags().String("storage-bucket", "", "storage bucket to write tiles to")
	rootCmd.Flags().String("storage-prefix", "", "object key prefix inside the bucket")

	// Execution options
	rootCmd.Flags().IntP("workers", "j", 0, "concurrent column writers (default: number of CPUs)")
	rootCmd.Flags().Int("parallel-threshold", tile.DefaultParallelThreshold, "lowest zoom level written with concurrent columns")
	rootCmd.Flags().Bool("continue-on-error", false, "keep writing higher zoom levels after tiles failed")

	// Bind flags to viper
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	for _, name := range []string{
		"source", "max-zoom", "format", "quality", "filter",
		"output", "storage-key", "storage-bucket", "storage-prefix",
		"workers", "parallel-threshold", "continue-on-error",
	} {
		viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".slicer" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".slicer")
	}

	// SLICER_MAX_ZOOM, SLICER_SERVER_PORT, ...
	viper.SetEnvPrefix("slicer")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
