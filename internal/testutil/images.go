package testutil

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// WriteJPEG writes a uniformly shaded 16x16 JPEG to dir/name and returns its
// size in bytes.
func WriteJPEG(t *testing.T, dir, name string, shade uint8) int64 {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = shade
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 100}); err != nil {
		f.Close()
		t.Fatalf("encoding %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing %s: %v", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

// WriteFile writes data to dir/name, creating dir as needed.
func WriteFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// FileExists reports whether dir/name exists.
func FileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// StubComparator scores frames by the luma of their top-left pixel:
// identical shades score 100, otherwise 100 minus the shade difference
// (floored at 0). It records how many comparisons were made.
type StubComparator struct {
	mu    sync.Mutex
	calls int
	Err   error
}

func (c *StubComparator) Compare(a, b image.Image) (float64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	la := color.GrayModel.Convert(a.At(a.Bounds().Min.X, a.Bounds().Min.Y)).(color.Gray).Y
	lb := color.GrayModel.Convert(b.At(b.Bounds().Min.X, b.Bounds().Min.Y)).(color.Gray).Y
	diff := int(la) - int(lb)
	if diff < 0 {
		diff = -diff
	}
	score := 100 - float64(diff)
	if score < 0 {
		score = 0
	}
	return score, nil
}

// Calls returns the number of Compare calls so far.
func (c *StubComparator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
