package rangeread

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/mohammed-shakir/tiled-subset/internal/core/model"
)

func init() {
	Register("zip", func(d Deps) SizedReader { return NewZipReader(d.Inner, 256) })
}

// tailSize is fetched in one read before the central directory is parsed;
// most directories fit inside it.
const tailSize = 64 << 10

// ZipReader serves members of zip archives addressed as
// zip+<inner-uri>!<member>. The archive itself is read through inner with
// ranged reads; only the central directory and the needed member bytes are
// transferred.
type ZipReader struct {
	inner SizedReader
	dirs  *lru.Cache[string, *archive]
}

func NewZipReader(inner SizedReader, archives int) *ZipReader {
	if archives <= 0 {
		archives = 256
	}
	c, _ := lru.New[string, *archive](archives)
	return &ZipReader{inner: inner, dirs: c}
}

// SplitZipURI returns the archive URI and member name of a zip+ URI.
func SplitZipURI(uri string) (archiveURI, member string, err error) {
	rest, ok := strings.CutPrefix(uri, "zip+")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a zip+ uri", model.ErrPermanent, uri)
	}
	i := strings.LastIndex(rest, "!")
	if i <= 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q needs <archive>!<member>", model.ErrPermanent, uri)
	}
	return rest[:i], strings.TrimPrefix(rest[i+1:], "/"), nil
}

func (z *ZipReader) ReadRange(ctx context.Context, uri string, off, n int64) (out []byte, err error) {
	if err := checkRange(uri, off, n); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observe("zip", start, len(out), err) }()

	arc, name, err := z.archive(ctx, uri)
	if err != nil {
		return nil, err
	}
	m, err := arc.member(ctx, name)
	if err != nil {
		return nil, err
	}
	if off+n > m.size {
		return nil, fmt.Errorf("%w: %s: range %d+%d past member size %d", model.ErrPermanent, redact(uri), off, n, m.size)
	}

	switch m.method {
	case zip.Store:
		return z.inner.ReadRange(ctx, arc.uri, m.data+off, n)
	case zip.Deflate:
		raw, err := z.inner.ReadRange(ctx, arc.uri, m.data, m.csize)
		if err != nil {
			return nil, err
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer func() { _ = fr.Close() }()
		if _, err := io.CopyN(io.Discard, fr, off); err != nil {
			return nil, fmt.Errorf("%w: inflate %s: %v", model.ErrPermanent, name, err)
		}
		out = make([]byte, n)
		if _, err := io.ReadFull(fr, out); err != nil {
			return nil, fmt.Errorf("%w: inflate %s: %v", model.ErrPermanent, name, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported compression method %d", model.ErrPermanent, name, m.method)
	}
}

// Size reports the uncompressed size of the member.
func (z *ZipReader) Size(ctx context.Context, uri string) (int64, error) {
	arc, name, err := z.archive(ctx, uri)
	if err != nil {
		return 0, err
	}
	m, err := arc.member(ctx, name)
	if err != nil {
		return 0, err
	}
	return m.size, nil
}

// Forget drops the cached directory of an archive.
func (z *ZipReader) Forget(archiveURI string) {
	z.dirs.Remove(archiveURI)
}

func (z *ZipReader) archive(ctx context.Context, uri string) (*archive, string, error) {
	au, name, err := SplitZipURI(uri)
	if err != nil {
		return nil, "", err
	}
	if a, ok := z.dirs.Get(au); ok {
		return a, name, nil
	}
	a, err := openArchive(ctx, z.inner, au)
	if err != nil {
		return nil, "", err
	}
	z.dirs.Add(au, a)
	return a, name, nil
}

type entry struct {
	data   int64 // offset of the member data in the archive
	method uint16
	csize  int64
	size   int64
}

// archive is a parsed central directory. Data offsets need one local
// header read each and are resolved on first use.
type archive struct {
	uri string

	mu      sync.Mutex
	ra      *rangeReaderAt
	files   map[string]*zip.File
	entries map[string]entry
}

func openArchive(ctx context.Context, inner SizedReader, uri string) (*archive, error) {
	size, err := inner.Size(ctx, uri)
	if err != nil {
		return nil, err
	}
	ra := &rangeReaderAt{r: inner, uri: uri, ctx: ctx}
	if err := ra.loadTail(size); err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		if ra.err != nil {
			return nil, ra.err
		}
		return nil, fmt.Errorf("%w: read zip directory of %s: %v", model.ErrPermanent, redact(uri), err)
	}
	a := &archive{
		uri:     uri,
		ra:      ra,
		files:   make(map[string]*zip.File, len(zr.File)),
		entries: make(map[string]entry, len(zr.File)),
	}
	for _, f := range zr.File {
		a.files[f.Name] = f
	}
	ra.ctx = nil
	return a, nil
}

func (a *archive) member(ctx context.Context, name string) (entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[name]; ok {
		return e, nil
	}
	f, ok := a.files[name]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s has no member %q", model.ErrNotExist, redact(a.uri), name)
	}
	a.ra.ctx = ctx
	off, err := f.DataOffset()
	a.ra.ctx = nil
	if err != nil {
		if a.ra.err != nil {
			e := a.ra.err
			a.ra.err = nil
			return entry{}, e
		}
		return entry{}, fmt.Errorf("%w: local header of %q: %v", model.ErrPermanent, name, err)
	}
	e := entry{
		data:   off,
		method: f.Method,
		csize:  int64(f.CompressedSize64),
		size:   int64(f.UncompressedSize64),
	}
	a.entries[name] = e
	return e, nil
}

var errUpstream = errors.New("upstream range read failed")

// rangeReaderAt adapts a Reader to io.ReaderAt for the zip parser. The
// archive tail is kept in memory. ctx is only set while a caller holds the
// archive lock.
type rangeReaderAt struct {
	r   Reader
	uri string
	ctx context.Context

	tail    []byte
	tailOff int64

	// err keeps the last upstream error so its classification survives the
	// zip parser's own wrapping.
	err error
}

func (ra *rangeReaderAt) loadTail(size int64) error {
	n := min(size, tailSize)
	if n <= 0 {
		return fmt.Errorf("%w: %s is empty", model.ErrPermanent, redact(ra.uri))
	}
	b, err := ra.r.ReadRange(ra.ctx, ra.uri, size-n, n)
	if err != nil {
		return err
	}
	ra.tail, ra.tailOff = b, size-n
	return nil
}

func (ra *rangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= ra.tailOff && off+int64(len(p)) <= ra.tailOff+int64(len(ra.tail)) {
		return copy(p, ra.tail[off-ra.tailOff:]), nil
	}
	if ra.ctx == nil {
		return 0, fmt.Errorf("%w: zip read outside a request", model.ErrPermanent)
	}
	b, err := ra.r.ReadRange(ra.ctx, ra.uri, off, int64(len(p)))
	if err != nil {
		ra.err = err
		return 0, fmt.Errorf("%w: %v", errUpstream, err)
	}
	return copy(p, b), nil
}
