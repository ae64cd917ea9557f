package imageutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/gabriel-vasile/mimetype"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const DefaultJPEGQuality = 90

var ErrNotAnImage = errors.New("content is not an image")

// SupportedExtensions are the file types the batch client picks up.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

func IsSupportedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}

	return false
}

// Decode sniffs the payload and decodes it. The detected mime type is returned
// alongside the image.
func Decode(data []byte) (image.Image, string, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, mtype.String(), fmt.Errorf("%w: detected %s", ErrNotAnImage, mtype.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, mtype.String(), fmt.Errorf("failed to decode %s: %w", mtype.String(), err)
	}

	return img, mtype.String(), nil
}

// Open decodes an image file from disk.
func Open(path string) (image.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	return img, nil
}

// ToRGB drops palette and colour model differences. When maxSide is positive
// the image is scaled down so its longest side fits.
func ToRGB(img image.Image, maxSide int) *image.RGBA {
	size := img.Bounds().Size()
	longest := max(size.X, size.Y)
	if maxSide > 0 && longest > maxSide {
		width := size.X * maxSide / longest
		height := size.Y * maxSide / longest
		return transform.Resize(img, max(width, 1), max(height, 1), transform.Linear)
	}

	return clone.AsRGBA(img)
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgio.JPEGEncoder(quality)(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
