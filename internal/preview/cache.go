// Package preview keeps decoded images on disk so the terminal can show them
// through the kitty graphics protocol.
package preview

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// FadeFrames is the number of frames of a cover fade-in.
const FadeFrames = 6

const (
	coversDir = "covers"
	pagesDir  = "pages"
)

type Image struct {
	FilePath string
	Frames   []string
	Width    int
	Height   int
}

// Cache stores covers with fade frames and reader pages scaled to fit.
type Cache struct {
	root string
}

func NewCache(root string) *Cache {
	return &Cache{root: root}
}

// DefaultCache lives in the user cache dir.
func DefaultCache() (*Cache, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("unable to resolve cache dir: %w", err)
	}
	return NewCache(filepath.Join(cacheDir, "boox-reader")), nil
}

func (cache *Cache) Root() string { return cache.root }

func cacheKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:12])
}

func (cache *Cache) coverPaths(coverURL string) (string, []string) {
	key := cacheKey(coverURL)
	dir := filepath.Join(cache.root, coversDir)

	frames := make([]string, FadeFrames)
	for i := range frames {
		frames[i] = filepath.Join(dir, fmt.Sprintf("%s-fade-%02d.png", key, i+1))
	}
	return filepath.Join(dir, key+".png"), frames
}

func (cache *Cache) pagePath(pageID string) string {
	return filepath.Join(cache.root, pagesDir, cacheKey(pageID)+".png")
}

// Cover returns the cached cover for coverURL, regenerating missing fade
// frames. A corrupt file is purged and reported as a miss.
func (cache *Cache) Cover(coverURL string) (Image, bool, error) {
	basePath, framePaths := cache.coverPaths(coverURL)

	decoded, ok, err := readPNG(basePath)
	if err != nil || !ok {
		if err != nil {
			purgeFiles(append([]string{basePath}, framePaths...))
		}
		return Image{}, false, nil
	}

	if !filesExist(framePaths) {
		if err := writeFadeFrames(decoded, framePaths); err != nil {
			return Image{}, false, err
		}
	}

	bounds := decoded.Bounds()
	return Image{FilePath: basePath, Frames: framePaths, Width: bounds.Dx(), Height: bounds.Dy()}, true, nil
}

func (cache *Cache) SaveCover(coverURL string, data []byte) (Image, error) {
	decoded, err := Decode(data)
	if err != nil {
		return Image{}, fmt.Errorf("unable to decode cover image: %w", err)
	}

	basePath, framePaths := cache.coverPaths(coverURL)
	if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
		return Image{}, fmt.Errorf("unable to create cover cache: %w", err)
	}
	if err := writePNG(basePath, decoded); err != nil {
		return Image{}, err
	}
	if err := writeFadeFrames(decoded, framePaths); err != nil {
		return Image{}, err
	}

	bounds := decoded.Bounds()
	return Image{FilePath: basePath, Frames: framePaths, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// Page returns the cached rendition of a reader page.
func (cache *Cache) Page(pageID string) (Image, bool, error) {
	path := cache.pagePath(pageID)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Image{}, false, nil
		}
		return Image{}, false, err
	}
	defer file.Close()

	config, err := png.DecodeConfig(file)
	if err != nil {
		purgeFiles([]string{path})
		return Image{}, false, nil
	}
	return Image{FilePath: path, Width: config.Width, Height: config.Height}, true, nil
}

// SavePage stores a page scaled down to fit maxWidth x maxHeight pixels,
// keeping its aspect ratio. Non-positive bounds keep the original size.
func (cache *Cache) SavePage(pageID string, data []byte, maxWidth, maxHeight int) (Image, error) {
	decoded, err := Decode(data)
	if err != nil {
		return Image{}, fmt.Errorf("unable to decode page image: %w", err)
	}

	scaled := fit(decoded, maxWidth, maxHeight)
	path := cache.pagePath(pageID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Image{}, fmt.Errorf("unable to create page cache: %w", err)
	}
	if err := writePNG(path, scaled); err != nil {
		return Image{}, err
	}

	bounds := scaled.Bounds()
	return Image{FilePath: path, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// ClearPages drops cached reader pages but keeps covers.
func (cache *Cache) ClearPages() error {
	if err := os.RemoveAll(filepath.Join(cache.root, pagesDir)); err != nil {
		return fmt.Errorf("unable to clear page cache: %w", err)
	}
	return nil
}

func (cache *Cache) Clear() error {
	if err := os.RemoveAll(cache.root); err != nil {
		return fmt.Errorf("unable to clear image cache: %w", err)
	}
	return nil
}

// Decode reads jpeg, png, gif and webp images.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	return decoded, err
}

func fit(source image.Image, maxWidth, maxHeight int) image.Image {
	bounds := source.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxWidth <= 0 || maxHeight <= 0 || (width <= maxWidth && height <= maxHeight) {
		return source
	}

	scale := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	target := image.Rect(0, 0, max(1, int(float64(width)*scale)), max(1, int(float64(height)*scale)))
	scaled := image.NewNRGBA(target)
	draw.CatmullRom.Scale(scaled, target, source, bounds, draw.Src, nil)
	return scaled
}

func readPNG(path string) (image.Image, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	decoded, err := png.Decode(file)
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func filesExist(paths []string) bool {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func purgeFiles(paths []string) {
	for _, path := range paths {
		_ = os.Remove(path)
	}
}

func writePNG(path string, source image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create image file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, source); err != nil {
		return fmt.Errorf("unable to encode png: %w", err)
	}
	return nil
}

func writeFadeFrames(source image.Image, framePaths []string) error {
	bounds := source.Bounds()

	for index, path := range framePaths {
		alpha := float64(index+1) / float64(len(framePaths))
		frame := image.NewNRGBA(bounds)
		draw.Draw(frame, bounds, source, bounds.Min, draw.Src)
		if alpha < 1 {
			for i := 3; i < len(frame.Pix); i += 4 {
				frame.Pix[i] = uint8(float64(frame.Pix[i]) * alpha)
			}
		}
		if err := writePNG(path, frame); err != nil {
			return err
		}
	}
	return nil
}
