package rangeread

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mohammed-shakir/tiled-subset/internal/core/httpclient"
	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

func init() {
	f := func(d Deps) SizedReader { return NewHTTPReader(d.Client) }
	Register("http", f)
	Register("https", f)
}

// HTTPReader issues Range requests. Servers that ignore Range and answer
// 200 are tolerated; the body is skipped up to off.
type HTTPReader struct {
	client *http.Client
}

func NewHTTPReader(c *http.Client) *HTTPReader {
	if c == nil {
		c = httpclient.NewOutbound(httpclient.WithTimeout(0))
	}
	return &HTTPReader{client: c}
}

func (h *HTTPReader) ReadRange(ctx context.Context, uri string, off, n int64) (out []byte, err error) {
	if err := checkRange(uri, off, n); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observe("http", start, len(out), err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", model.ErrPermanent, err)
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(off, 10)+"-"+strconv.FormatInt(off+n-1, 10))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range get %s: %w", redact(uri), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusErr(resp, uri); err != nil {
		return nil, err
	}
	body := io.Reader(resp.Body)
	if resp.StatusCode == http.StatusOK && off > 0 {
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			return nil, fmt.Errorf("skip to offset %d of %s: %w", off, redact(uri), err)
		}
	}
	out = make([]byte, n)
	if _, err := io.ReadFull(body, out); err != nil {
		return nil, fmt.Errorf("read %d bytes at %d of %s: %w", n, off, redact(uri), err)
	}
	return out, nil
}

func (h *HTTPReader) Size(ctx context.Context, uri string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", model.ErrPermanent, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %s: %w", redact(uri), err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := statusErr(resp, uri); err != nil {
		return 0, err
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("%w: %s has no content length", model.ErrPermanent, redact(uri))
	}
	return resp.ContentLength, nil
}

// statusErr maps 404/410 to ErrNotExist, other 4xx to ErrPermanent and
// leaves 5xx retryable.
func statusErr(resp *http.Response, uri string) error {
	code := resp.StatusCode
	switch {
	case code == http.StatusOK || code == http.StatusPartialContent:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return notExist(uri)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return fmt.Errorf("upstream status %d for %s", code, redact(uri))
	case code >= 400 && code < 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: upstream status %d for %s: %s", model.ErrPermanent, code, redact(uri), string(b))
	default:
		return fmt.Errorf("upstream status %d for %s", code, redact(uri))
	}
}
