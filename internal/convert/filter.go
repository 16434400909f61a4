package convert

import (
	"image"
	"os"

	// Decoders for the formats pdfimages emits.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ImageFilter decides whether an extracted image is worth keeping. It returns
// false for decorations such as page borders and logos.
type ImageFilter func(path string) bool

// MinDimensionsFilter drops images smaller than the given bounds and images
// with an extreme aspect ratio, which in planning documents are almost always
// rules and borders. Files that cannot be decoded are dropped too.
func MinDimensionsFilter(minWidth, minHeight int) ImageFilter {
	return func(path string) bool {
		f, err := os.Open(path)
		if err != nil {
			return false
		}
		defer f.Close()

		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return false
		}
		if cfg.Width < minWidth || cfg.Height < minHeight {
			return false
		}
		ratio := float64(cfg.Width) / float64(cfg.Height)
		if ratio > 10 || ratio < 0.1 {
			return false
		}
		return true
	}
}
