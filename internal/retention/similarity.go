package retention

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoding for DecodeImage
	"io"
	"sort"

	"camstore/internal/model"
)

// Comparator scores how similar two frames are, 0-100 with 100 meaning
// identical.
type Comparator interface {
	Compare(a, b image.Image) (float64, error)
}

// ImageLoader returns the decoded image stored under a blob filename.
type ImageLoader func(name string) (image.Image, error)

// EntryError is a per-entry failure from Recompute.
type EntryError struct {
	ID  string
	Err error
}

func (e EntryError) Error() string { return fmt.Sprintf("entry %s: %v", e.ID, e.Err) }

func (e EntryError) Unwrap() error { return e.Err }

// DecodeImage decodes a JPEG (or any registered format) from r.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// SortNewestFirst orders entries by capture time, newest first. Ties are
// broken by id so the order is stable across runs.
func SortNewestFirst(entries []*model.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Datestamp != b.Datestamp {
			return a.Datestamp > b.Datestamp
		}
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		return a.ID > b.ID
	})
}

// GroupByCamera splits a collection by camera id. Each group is sorted
// newest first.
func GroupByCamera(entries []*model.Entry) map[string][]*model.Entry {
	groups := make(map[string][]*model.Entry)
	for _, e := range entries {
		groups[e.CameraID] = append(groups[e.CameraID], e)
	}
	for _, g := range groups {
		SortNewestFirst(g)
	}
	return groups
}

// Recompute walks one camera's entries, sorted newest first, and stores on
// each entry its similarity to the next older frame. The oldest entry has no
// predecessor and is scored 0. When a pair cannot be loaded or compared the
// newer entry is left without a score and the failure is returned.
func Recompute(ctx context.Context, entries []*model.Entry, load ImageLoader, cmp Comparator) []EntryError {
	if len(entries) == 0 {
		return nil
	}

	zero := 0.0
	entries[len(entries)-1].Similarity = &zero
	if len(entries) == 1 {
		return nil
	}

	var errs []EntryError

	var (
		newer    image.Image
		newerErr error
	)
	newer, newerErr = loadEntry(load, entries[0])

	for i := 0; i < len(entries)-1; i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, EntryError{ID: entries[i].ID, Err: err})
			return errs
		}

		cur := entries[i]
		older, olderErr := loadEntry(load, entries[i+1])

		switch {
		case newerErr != nil:
			cur.Similarity = nil
			errs = append(errs, EntryError{ID: cur.ID, Err: newerErr})
		case olderErr != nil:
			cur.Similarity = nil
			errs = append(errs, EntryError{ID: cur.ID, Err: olderErr})
		default:
			score, err := cmp.Compare(newer, older)
			if err != nil {
				cur.Similarity = nil
				errs = append(errs, EntryError{ID: cur.ID, Err: fmt.Errorf("comparing frames: %w", err)})
			} else {
				cur.Similarity = &score
			}
		}

		newer, newerErr = older, olderErr
	}
	return errs
}

func loadEntry(load ImageLoader, e *model.Entry) (image.Image, error) {
	name := e.LowresFile
	if name == "" {
		name = e.HiresFile
	}
	if name == "" {
		return nil, fmt.Errorf("entry %s has no image file", e.ID)
	}
	return load(name)
}
