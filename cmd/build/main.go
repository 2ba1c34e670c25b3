package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb/maptile"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tilezen/go-shapedtiles/tilepack"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "build",
	Short: "Render the tiles covered by a polygon into a tile container",
	Long: `build renders every tile whose extent intersects a polygon and draws only
the pixels inside the polygon. Tiles are written to an MBTiles file, a
PMTiles archive or a z/x/y directory tree.

Examples:
  # Shaped basemap from an XYZ service, zooms 10 to 14
  build --polygon area.geojson --zooms 10-14 \
    --url-template 'https://tile.example.com/{z}/{x}/{y}.png' --output area.mbtiles

  # Render local GeoJSON features as JPEG on a grey background
  build --polygon 'POLYGON((5 45,6 45,6 46,5 46,5 45))' --engine geojson \
    --features roads.geojson --format jpg --background '#eeeeee' --output roads.mbtiles

  # Count tiles and memory before rendering
  build estimate --polygon area.geojson --zooms 0-16`,
	SilenceUsage: true,
	RunE:         runBuild,
}

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Print the tile count and per-tile memory for a polygon",
	RunE:  runEstimate,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.String("polygon", "", "Polygon as WKT, GeoJSON, or a path to a file holding either (required)")
	pf.String("crs", string(tilepack.EPSG4326), "CRS of the polygon coordinates")
	pf.String("zooms", "10-14", "Zoom levels as a '{MIN_ZOOM}-{MAX_ZOOM}' range or a comma-separated list")
	pf.Int("dpi", tilepack.DefaultDPI, "Render DPI")
	pf.Bool("antialias", true, "Antialias the clip edge and features")
	pf.Int("metatile-size", tilepack.DefaultMetatileSize, "Canvas multiplier rendered around each tile")
	pf.String("format", string(tilepack.PNG), "Tile format (png|jpg)")
	pf.Int("jpeg-quality", tilepack.DefaultJPEGQuality, "JPEG quality (1-100)")
	pf.String("background", "", "Background color (#rrggbb or r,g,b). Transparent PNG when empty")
	pf.Bool("verbose", false, "Log every tile")

	f := rootCmd.Flags()
	f.StringP("output", "o", "", "Path of the tile container to write (required)")
	f.String("output-mode", "mbtiles", "Valid modes are: mbtiles, pmtiles, disk")
	f.String("engine", "xyz", "Rendering engine (xyz|geojson)")
	f.String("url-template", "", "(For xyz engine) URL template of the upstream raster tiles")
	f.Int("source-tile-size", tilepack.TileSize, "(For xyz engine) Pixel size of the upstream tiles")
	f.Duration("timeout", 60*time.Second, "(For xyz engine) HTTP client timeout for tile requests")
	f.String("features", "", "(For geojson engine) GeoJSON FeatureCollection to render")
	f.String("name", "", "Tileset name written to the metadata")
	f.String("description", "", "Tileset description written to the metadata")
	f.Int("batch-size", tilepack.DefaultBatchSize, "Tiles committed per transaction")
	f.Bool("overwrite", false, "Replace an existing output file")
	f.String("publish", "", "Upload the finished container to s3://bucket/key")

	viper.BindPFlags(pf)
	viper.BindPFlags(f)

	rootCmd.AddCommand(estimateCmd)
}

// initConfig reads the config file and SHAPEDTILES_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			cobra.CheckErr(fmt.Errorf("reading config %s: %w", cfgFile, err))
		}
	}

	viper.SetEnvPrefix("SHAPEDTILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

var zoomRangeRegex = regexp.MustCompile(`^\d+\-\d+$`)

// parseZooms accepts a single zoom, a MIN-MAX range or a comma-separated
// list. A list covers its smallest to largest zoom.
func parseZooms(s string) (maptile.Zoom, maptile.Zoom, error) {
	s = strings.TrimSpace(s)

	var zooms []uint64

	if zoomRangeRegex.MatchString(s) {
		zoom_range := strings.Split(s, "-")

		min_zoom, err := strconv.ParseUint(zoom_range[0], 10, 8)
		if err != nil {
			return 0, 0, fmt.Errorf("Failed to parse min zoom (%s), %w", zoom_range[0], err)
		}

		max_zoom, err := strconv.ParseUint(zoom_range[1], 10, 8)
		if err != nil {
			return 0, 0, fmt.Errorf("Failed to parse max zoom (%s), %w", zoom_range[1], err)
		}

		if min_zoom > max_zoom {
			return 0, 0, fmt.Errorf("Invalid zoom range %s", s)
		}

		zooms = []uint64{min_zoom, max_zoom}
	} else {
		for _, zoomStr := range strings.Split(s, ",") {
			z, err := strconv.ParseUint(strings.TrimSpace(zoomStr), 10, 8)
			if err != nil {
				return 0, 0, fmt.Errorf("Zoom list could not be parsed: %w", err)
			}
			zooms = append(zooms, z)
		}
	}

	minZoom, maxZoom := zooms[0], zooms[0]
	for _, z := range zooms {
		minZoom = min(minZoom, z)
		maxZoom = max(maxZoom, z)
	}

	if maxZoom > uint64(tilepack.MaxZoom) {
		return 0, 0, fmt.Errorf("Zoom %d exceeds maximum %d", maxZoom, tilepack.MaxZoom)
	}

	return maptile.Zoom(minZoom), maptile.Zoom(maxZoom), nil
}

func renderConfigFromViper() (tilepack.RenderConfig, error) {
	cfg := tilepack.DefaultRenderConfig()

	format, err := tilepack.ParseFormat(viper.GetString("format"))
	if err != nil {
		return cfg, err
	}

	cfg.Format = format
	cfg.DPI = viper.GetInt("dpi")
	cfg.Antialias = viper.GetBool("antialias")
	cfg.MetatileSize = viper.GetInt("metatile-size")
	cfg.JPEGQuality = viper.GetInt("jpeg-quality")

	if bg := viper.GetString("background"); bg != "" {
		c, err := tilepack.ParseColor(bg)
		if err != nil {
			return cfg, err
		}
		cfg.Background = &c
	}

	validated, err := cfg.Validate()
	if err != nil {
		return validated, err
	}

	if validated.MetatileSize != cfg.MetatileSize {
		slog.Warn("Capping metatile size", "requested", cfg.MetatileSize, "max", validated.MetatileSize)
	}

	return validated, nil
}

func loadPolygon() (*tilepack.Polygon, error) {
	src := viper.GetString("polygon")
	if src == "" {
		return nil, fmt.Errorf("--polygon is required")
	}

	crs, err := tilepack.ParseCRS(viper.GetString("crs"))
	if err != nil {
		return nil, err
	}

	return tilepack.ReadPolygon(src, crs)
}

func newEngine() (tilepack.Engine, error) {
	switch viper.GetString("engine") {
	case "xyz":
		urlTemplate := viper.GetString("url-template")
		if urlTemplate == "" {
			return nil, fmt.Errorf("--url-template is required for the xyz engine")
		}
		return tilepack.NewXYZEngine(urlTemplate, viper.GetDuration("timeout"), viper.GetInt("source-tile-size"))
	case "geojson":
		features := viper.GetString("features")
		if features == "" {
			return nil, fmt.Errorf("--features is required for the geojson engine")
		}
		return tilepack.LoadGeoJSONEngine(features)
	default:
		return nil, fmt.Errorf("unknown engine %s", viper.GetString("engine"))
	}
}

func prepareOutput(path string, overwrite bool) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if !overwrite {
		return fmt.Errorf("output path %s already exists, use --overwrite to replace it", path)
	}

	if info.IsDir() {
		return nil
	}
	return os.Remove(path)
}

func runBuild(cmd *cobra.Command, args []string) error {
	logger := newLogger(viper.GetBool("verbose"))

	output := viper.GetString("output")
	if output == "" {
		return fmt.Errorf("--output is required")
	}
	outputMode := viper.GetString("output-mode")

	polygon, err := loadPolygon()
	if err != nil {
		return err
	}

	minZoom, maxZoom, err := parseZooms(viper.GetString("zooms"))
	if err != nil {
		return err
	}

	cfg, err := renderConfigFromViper()
	if err != nil {
		return err
	}

	engine, err := newEngine()
	if err != nil {
		return err
	}

	var publishTo tilepack.S3Location
	if uri := viper.GetString("publish"); uri != "" {
		if outputMode == "disk" {
			return fmt.Errorf("--publish needs a single-file output mode")
		}
		publishTo, err = tilepack.ParseS3URI(uri, output)
		if err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar

	name := viper.GetString("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	}

	job, err := tilepack.NewGenerationJob(tilepack.JobOptions{
		Name:        name,
		Description: viper.GetString("description"),
		Polygon:     polygon,
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		Render:      cfg,
		Engine:      engine,
		Logger:      logger,
		Progress: func(p tilepack.Progress) {
			bar.Describe(p.String())
			bar.Add(1)
		},
	})
	if errors.Is(err, tilepack.ErrEmptySelection) {
		logger.Warn("Nothing to generate", "zooms", fmt.Sprintf("%d-%d", minZoom, maxZoom))
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("Estimated memory per tile", "bytes", tilepack.EstimateMemoryUsage(cfg))

	if err := prepareOutput(output, viper.GetBool("overwrite")); err != nil {
		return err
	}

	outputter, err := tilepack.NewOutputter(outputMode, output, cfg.Format, viper.GetInt("batch-size"), nil)
	if err != nil {
		return err
	}

	bar = progressbar.NewOptions(job.Total(),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result := job.Run(ctx, outputter)
	bar.Finish()

	for _, failure := range result.Skipped {
		logger.Warn("Skipped tile", "tile", failure.Tile, "error", failure.Err)
	}

	logger.Info("Generation finished", "status", result.String(), "generated", result.Generated, "elapsed", result.Elapsed.Round(time.Millisecond))

	if result.Status == tilepack.StatusFailed {
		return result.Err
	}

	if publishTo.Bucket != "" && result.Status != tilepack.StatusCancelled {
		uploader, err := tilepack.NewS3Uploader()
		if err != nil {
			return err
		}

		if err := tilepack.PublishToS3(context.Background(), uploader, output, publishTo, tilepack.ContainerContentType(outputMode)); err != nil {
			return err
		}
	}

	return nil
}

func runEstimate(cmd *cobra.Command, args []string) error {
	newLogger(viper.GetBool("verbose"))

	polygon, err := loadPolygon()
	if err != nil {
		return err
	}

	minZoom, maxZoom, err := parseZooms(viper.GetString("zooms"))
	if err != nil {
		return err
	}

	cfg, err := renderConfigFromViper()
	if err != nil {
		return err
	}

	upper, err := tilepack.EstimateTileCount(polygon, minZoom, maxZoom)
	if err != nil {
		return err
	}

	tiles, err := tilepack.SelectTiles(polygon, minZoom, maxZoom)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Zooms:              %d-%d\n", minZoom, maxZoom)
	fmt.Fprintf(out, "Bounding box tiles: %d\n", upper)
	fmt.Fprintf(out, "Selected tiles:     %d\n", len(tiles))
	fmt.Fprintf(out, "Canvas:             %dx%d px\n", cfg.CanvasSize(), cfg.CanvasSize())
	fmt.Fprintf(out, "Memory per tile:    %.1f MiB\n", float64(tilepack.EstimateMemoryUsage(cfg))/(1<<20))

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
