package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFixture lays out a 2x2 tile grid of 2x2 float32 tiles on disk whose
// values are row*10+col, plus a catalog pointing at it.
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for tr := 0; tr < 2; tr++ {
		for tc := 0; tc < 2; tc++ {
			buf := make([]byte, 16)
			for i := 0; i < 4; i++ {
				v := float32((tr*2+i/2)*10 + tc*2 + i%2)
				binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
			}
			if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("t_%d_%d.bin", tr, tc)), buf, 0o600); err != nil {
				t.Fatalf("write tile: %v", err)
			}
		}
	}
	cat := fmt.Sprintf(`{"datasets":[{
  "id": "quad",
  "title": "Quad test grid",
  "url_template": "file://%s/t_{{.Row}}_{{.Col}}.bin",
  "variable": "v",
  "crs": "EPSG:4326",
  "grid": {"extent": {"X1": 0, "Y1": 0, "X2": 4, "Y2": 4}, "res_x": 1, "res_y": 1,
           "scheme": "grid", "tile_rows": 2, "tile_cols": 2},
  "tiling": "spatial",
  "encoding": "float32le",
  "nodata": -9999
}]}`, filepath.ToSlash(dir))
	p := filepath.Join(dir, "catalog.json")
	if err := os.WriteFile(p, []byte(cat), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return p
}

func TestRun_SubsetWithZonalStats(t *testing.T) {
	t.Setenv("TILE_CACHE_ENABLED", "false")
	cat := writeFixture(t)
	zones := filepath.Join(filepath.Dir(cat), "zones.json")
	z := `[{"id":"all","geometry":{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}}]`
	if err := os.WriteFile(zones, []byte(z), 0o600); err != nil {
		t.Fatalf("write zones: %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"-catalog", cat, "-q", "quad", "-bbox", "1,1,3,3", "-zones", zones}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr.String())
	}

	var out struct {
		Result struct {
			DatasetID string    `json:"dataset_id"`
			Values    []float64 `json:"values"`
		} `json:"result"`
		Zonal []struct {
			Zone  string  `json:"zone"`
			Count int     `json:"count"`
			Sum   float64 `json:"sum"`
			Min   float64 `json:"min"`
			Max   float64 `json:"max"`
		} `json:"zonal"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout.String())
	}
	if out.Result.DatasetID != "quad" {
		t.Fatalf("dataset=%q want quad", out.Result.DatasetID)
	}
	if b, _ := json.Marshal(out.Result.Values); string(b) != "[11,12,21,22]" {
		t.Fatalf("values=%s", b)
	}
	if len(out.Zonal) != 1 {
		t.Fatalf("zonal=%+v want one zone", out.Zonal)
	}
	zs := out.Zonal[0]
	if zs.Zone != "all" || zs.Count != 4 || zs.Sum != 66 || zs.Min != 11 || zs.Max != 22 {
		t.Fatalf("zonal=%+v", zs)
	}
}

func TestRun_Search(t *testing.T) {
	t.Setenv("TILE_CACHE_ENABLED", "false")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-catalog", writeFixture(t), "-search", "quad grid"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit=%d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"quad"`) {
		t.Fatalf("search output=%s", stdout.String())
	}
}

func TestRun_BadArguments(t *testing.T) {
	t.Setenv("TILE_CACHE_ENABLED", "false")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-catalog", writeFixture(t), "-q", "quad", "-bbox", "1,2,3"}, &stdout, &stderr); code != 2 {
		t.Fatalf("exit=%d want 2 stderr=%s", code, stderr.String())
	}
	if code := run([]string{"-nope"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown flag exit=%d want 2", code)
	}
}

func TestRun_MissingCatalog(t *testing.T) {
	t.Setenv("TILE_CACHE_ENABLED", "false")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("CATALOG_URL", "")
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-q", "quad", "-bbox", "1,1,3,3"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit=%d want 1", code)
	}
}
