// Package rangeread reads byte ranges of remote objects addressed by URI.
package rangeread

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
	"github.com/mohammed-shakir/tiled-subset/internal/core/observability"
)

// Reader returns exactly n bytes starting at off, or an error. Errors
// wrapping model.ErrNotExist or model.ErrPermanent must not be retried.
type Reader interface {
	ReadRange(ctx context.Context, uri string, off, n int64) ([]byte, error)
}

// Sizer reports the total size of an object.
type Sizer interface {
	Size(ctx context.Context, uri string) (int64, error)
}

type SizedReader interface {
	Reader
	Sizer
}

// Deps are handed to every registered factory.
type Deps struct {
	Client *http.Client
	// Inner is the mux being built, for readers that wrap other readers.
	Inner SizedReader
}

type Factory func(d Deps) SizedReader

var reg = map[string]Factory{}

// Register adds a scheme to every Mux built afterwards.
func Register(scheme string, f Factory) {
	reg[strings.ToLower(scheme)] = f
}

// Schemes lists the registered schemes, sorted.
func Schemes() []string {
	out := make([]string, 0, len(reg))
	for s := range reg {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Mux dispatches on the URI scheme. A "zip+" prefix selects the zip reader
// whatever the inner scheme.
type Mux struct {
	readers map[string]SizedReader
}

var _ SizedReader = (*Mux)(nil)

// NewMux instantiates every registered scheme.
func NewMux(d Deps) *Mux {
	m := &Mux{readers: make(map[string]SizedReader, len(reg))}
	d.Inner = m
	for _, s := range Schemes() {
		m.readers[s] = reg[s](d)
	}
	return m
}

// Handle overrides the reader for one scheme.
func (m *Mux) Handle(scheme string, r SizedReader) {
	m.readers[strings.ToLower(scheme)] = r
}

func (m *Mux) Reader(scheme string) (SizedReader, bool) {
	r, ok := m.readers[strings.ToLower(scheme)]
	return r, ok
}

func (m *Mux) ReadRange(ctx context.Context, uri string, off, n int64) ([]byte, error) {
	r, err := m.route(uri)
	if err != nil {
		return nil, err
	}
	return r.ReadRange(ctx, uri, off, n)
}

func (m *Mux) Size(ctx context.Context, uri string) (int64, error) {
	r, err := m.route(uri)
	if err != nil {
		return 0, err
	}
	return r.Size(ctx, uri)
}

func (m *Mux) route(uri string) (SizedReader, error) {
	s := scheme(uri)
	if s == "" {
		return nil, fmt.Errorf("%w: uri %q has no scheme", model.ErrPermanent, uri)
	}
	if r, ok := m.readers[s]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: no reader for scheme %q", model.ErrPermanent, s)
}

// scheme returns the lowercased scheme, collapsing "zip+https" to "zip".
func scheme(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return ""
	}
	s := strings.ToLower(uri[:i])
	if strings.HasPrefix(s, "zip+") {
		return "zip"
	}
	return s
}

func checkRange(uri string, off, n int64) error {
	if off < 0 || n <= 0 {
		return fmt.Errorf("%w: invalid range off=%d n=%d for %s", model.ErrPermanent, off, n, uri)
	}
	return nil
}

func notExist(uri string) error {
	return fmt.Errorf("%w: %s", model.ErrNotExist, redact(uri))
}

// redact drops userinfo and query strings, which may carry credentials.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// outcome labels a read for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case model.IsPermanent(err):
		return "permanent"
	case ctxErr(err):
		return "cancelled"
	default:
		return "transient"
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func observe(scheme string, start time.Time, n int, err error) {
	observability.ObserveRangeRead(scheme, outcome(err), n, time.Since(start).Seconds())
}
