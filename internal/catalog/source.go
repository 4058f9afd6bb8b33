package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mohammed-shakir/tiled-subset/internal/core/httpclient"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

// Source supplies the full descriptor table.
type Source interface {
	Load(ctx context.Context) ([]model.DatasetDescriptor, error)
	Name() string
}

type StaticSource []model.DatasetDescriptor

func (s StaticSource) Load(_ context.Context) ([]model.DatasetDescriptor, error) {
	out := make([]model.DatasetDescriptor, len(s))
	for i, d := range s {
		out[i] = d.Clone()
	}
	return out, nil
}

func (s StaticSource) Name() string { return "static" }

// FileSource reads a JSON catalog document from disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) ([]model.DatasetDescriptor, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", s.Path, err)
	}
	return Decode(b)
}

func (s FileSource) Name() string { return "file:" + s.Path }

// HTTPSource fetches a JSON catalog document.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Load(ctx context.Context) ([]model.DatasetDescriptor, error) {
	cli := s.Client
	if cli == nil {
		cli = httpclient.NewOutbound(httpclient.WithCompression(true))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch catalog: status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalog body: %w", err)
	}
	return Decode(b)
}

func (s HTTPSource) Name() string { return "http:" + s.URL }

// Decode accepts either a bare array or {"datasets":[...]}.
func Decode(b []byte) ([]model.DatasetDescriptor, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty catalog document")
	}
	if b[0] == '[' {
		var out []model.DatasetDescriptor
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		return out, nil
	}
	var doc struct {
		Datasets []model.DatasetDescriptor `json:"datasets"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return doc.Datasets, nil
}
