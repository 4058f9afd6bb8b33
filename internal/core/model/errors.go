package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotExist marks a remote resource that is permanently missing.
var ErrNotExist = errors.New("remote resource does not exist")

// ErrPermanent marks a range read that must not be retried.
var ErrPermanent = errors.New("permanent read failure")

type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: no dataset matches %q", e.Query)
}

type OutOfBoundsError struct {
	DatasetID string
	AOI       string
	Extent    BBox
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("dataset %s: area of interest %s is outside extent %s", e.DatasetID, e.AOI, e.Extent.String())
}

type OutOfRangeError struct {
	DatasetID string
	Window    TimeWindow
	Coverage  *Coverage
}

func (e *OutOfRangeError) Error() string {
	cov := "none"
	if e.Coverage != nil {
		cov = e.Coverage.String()
	}
	return fmt.Sprintf("dataset %s: time window %s is outside coverage %s", e.DatasetID, e.Window.String(), cov)
}

type TransientFetchError struct {
	DatasetID string
	Tile      TileRef
	URI       string
	Err       error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("dataset %s: %s (%s): transient fetch error: %v", e.DatasetID, e.Tile.String(), e.URI, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IncompleteSubsetError is returned instead of a result with gaps.
type IncompleteSubsetError struct {
	DatasetID string
	Window    BBox
	Missing   []TileRef
	Err       error
}

func (e *IncompleteSubsetError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, t := range e.Missing {
		names = append(names, t.String()+"="+t.URI)
	}
	msg := fmt.Sprintf("dataset %s: incomplete subset for %s, missing %d tile(s): %s",
		e.DatasetID, e.Window.String(), len(e.Missing), strings.Join(names, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IncompleteSubsetError) Unwrap() error { return e.Err }

// IsPermanent reports whether err should stop retries.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotExist) || errors.Is(err, ErrPermanent)
}
