// Command subset runs one subset request against a catalog file and prints
// the result as JSON, optionally with zonal statistics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/mohammed-shakir/tiled-subset/internal/app"
	"github.com/mohammed-shakir/tiled-subset/internal/core/config"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
	"github.com/mohammed-shakir/tiled-subset/internal/core/router"
	"github.com/mohammed-shakir/tiled-subset/internal/logger"
	"github.com/mohammed-shakir/tiled-subset/internal/zonal"
)

type output struct {
	Result model.SubsetResult `json:"result"`
	Zonal  []zonal.Stats      `json:"zonal,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("subset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		catalogPath = fs.String("catalog", os.Getenv("CATALOG_PATH"), "catalog JSON file")
		dataset     = fs.String("dataset", "", "dataset id")
		query       = fs.String("q", "", "free-text dataset query, used when -dataset is empty")
		bbox        = fs.String("bbox", "", "x1,y1,x2,y2[,crs]")
		polygon     = fs.String("polygon", "", "GeoJSON Polygon, MultiPolygon or Point")
		crs         = fs.String("crs", "", "CRS of the area of interest (default EPSG:4326)")
		buffer      = fs.String("buffer", "", "buffer around the area, in its CRS units")
		start       = fs.String("start", "", "window start, RFC 3339 or YYYY-MM-DD")
		end         = fs.String("end", "", "window end (exclusive)")
		zonesPath   = fs.String("zones", "", "JSON file with an array of {id, geometry, crs} zones")
		search      = fs.String("search", "", "print catalog matches for a query and exit")
		timeout     = fs.Duration("timeout", 2*time.Minute, "overall deadline")
		verbose     = fs.Bool("v", false, "debug logging to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.FromEnv()
	cfg.CatalogPath = *catalogPath
	cfg.CatalogURL = ""
	cfg.CatalogRefresh = 0
	cfg.CatalogEvents.Enabled = false
	cfg.SubsetEvents.Enabled = false
	cfg.PipelineTimeout = *timeout
	if *verbose {
		cfg.LogLevel = "debug"
	} else if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}

	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true, Service: "tiled-subset", Component: "cli"}, stderr)
	log := logger.NewSlog(&zl)
	observability.Init(nil, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		return 1
	}
	defer func() { _ = a.Close() }()
	if err := a.Refresher.LoadOnce(ctx); err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if *search != "" {
		if err := enc.Encode(a.Service.Search(*search, 10)); err != nil {
			fmt.Fprintf(stderr, "subset: %v\n", err)
			return 1
		}
		return 0
	}

	vals := url.Values{}
	for k, v := range map[string]string{
		"dataset": *dataset, "q": *query, "bbox": *bbox, "polygon": *polygon,
		"crs": *crs, "buffer": *buffer, "start": *start, "end": *end,
	} {
		if v != "" {
			vals.Set(k, v)
		}
	}
	req, warn, err := router.ParseSubsetValues(vals)
	if warn != "" {
		log.Warn(warn)
	}
	if err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		return 2
	}

	res, err := a.Service.Subset(ctx, req)
	if err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		var inc *model.IncompleteSubsetError
		if errors.As(err, &inc) {
			return 3
		}
		return 1
	}

	out := output{Result: res}
	if *zonesPath != "" {
		zones, err := readZones(*zonesPath)
		if err != nil {
			fmt.Fprintf(stderr, "subset: %v\n", err)
			return 1
		}
		out.Zonal, err = zonal.Compute(res, zones, a.Projector)
		if err != nil {
			fmt.Fprintf(stderr, "subset: %v\n", err)
			return 1
		}
	}
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "subset: %v\n", err)
		return 1
	}
	return 0
}

func readZones(path string) ([]zonal.Zone, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zones: %w", err)
	}
	var raw []struct {
		ID       string          `json:"id"`
		Geometry json.RawMessage `json:"geometry"`
		CRS      string          `json:"crs"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode zones: %w", err)
	}
	zones := make([]zonal.Zone, 0, len(raw))
	for i, z := range raw {
		if len(z.Geometry) == 0 {
			return nil, fmt.Errorf("zone %d has no geometry", i)
		}
		id := z.ID
		if id == "" {
			id = fmt.Sprintf("zone-%d", i)
		}
		zones = append(zones, zonal.Zone{ID: id, GeoJSON: string(z.Geometry), CRS: z.CRS})
	}
	return zones, nil
}
