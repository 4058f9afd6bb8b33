package rangeread

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

func init() {
	f := func(Deps) SizedReader { return NewBlobReader() }
	for _, s := range []string{"s3", "gs", "file", "mem"} {
		Register(s, f)
	}
}

// BlobReader reads object ranges through gocloud.dev/blob. Drivers other
// than file and mem are linked in by the binary. Buckets are opened once
// per bucket URL.
type BlobReader struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

func NewBlobReader() *BlobReader {
	return &BlobReader{buckets: make(map[string]*blob.Bucket)}
}

// WithBucket serves bucketURL from b instead of opening it.
func (r *BlobReader) WithBucket(bucketURL string, b *blob.Bucket) *BlobReader {
	r.mu.Lock()
	r.buckets[bucketURL] = b
	r.mu.Unlock()
	return r
}

func (r *BlobReader) ReadRange(ctx context.Context, uri string, off, n int64) (out []byte, err error) {
	if err := checkRange(uri, off, n); err != nil {
		return nil, err
	}
	start := time.Now()
	sch := scheme(uri)
	defer func() { observe(sch, start, len(out), err) }()

	b, key, err := r.open(ctx, uri)
	if err != nil {
		return nil, err
	}
	rr, err := b.NewRangeReader(ctx, key, off, n, nil)
	if err != nil {
		return nil, blobErr(uri, err)
	}
	defer func() { _ = rr.Close() }()

	out = make([]byte, n)
	if _, err := io.ReadFull(rr, out); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: %s is shorter than %d", model.ErrPermanent, redact(uri), off+n)
		}
		return nil, blobErr(uri, err)
	}
	return out, nil
}

func (r *BlobReader) Size(ctx context.Context, uri string) (int64, error) {
	b, key, err := r.open(ctx, uri)
	if err != nil {
		return 0, err
	}
	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return 0, blobErr(uri, err)
	}
	return attrs.Size, nil
}

// Close releases every opened bucket.
func (r *BlobReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for k, b := range r.buckets {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.buckets, k)
	}
	return first
}

func (r *BlobReader) open(ctx context.Context, uri string) (*blob.Bucket, string, error) {
	bucketURL, key, err := splitBlobURI(uri)
	if err != nil {
		return nil, "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[bucketURL]; ok {
		return b, key, nil
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: open bucket %s: %v", model.ErrPermanent, redact(bucketURL), err)
	}
	r.buckets[bucketURL] = b
	return b, key, nil
}

// splitBlobURI splits s3://bucket/a/b.bin?region=x into the bucket URL
// s3://bucket?region=x and the key a/b.bin. file URIs are rooted at /.
func splitBlobURI(uri string) (bucketURL, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: parse %q: %v", model.ErrPermanent, uri, err)
	}
	if u.Scheme == "file" {
		key = strings.TrimPrefix(u.Path, "/")
		if key == "" {
			return "", "", fmt.Errorf("%w: %q has no path", model.ErrPermanent, uri)
		}
		return "file:///", key, nil
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs a bucket and a key", model.ErrPermanent, redact(uri))
	}
	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}
	return b.String(), key, nil
}

func blobErr(uri string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound:
		return notExist(uri)
	case gcerrors.InvalidArgument, gcerrors.PermissionDenied, gcerrors.FailedPrecondition, gcerrors.Unimplemented:
		return fmt.Errorf("%w: %s: %v", model.ErrPermanent, redact(uri), err)
	default:
		return fmt.Errorf("blob read %s: %w", redact(uri), err)
	}
}
