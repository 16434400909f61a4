package convert

import (
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"

	"github.com/civicsignal/permitpipe/internal/pipeline"
)

// ImageThumbnailer scales extracted images down to a bounded thumbnail.
// Thumbnailing is best effort: a failure is logged and the image keeps
// serving its full-size file, so Generate never fails a pipeline branch.
type ImageThumbnailer struct {
	store  pipeline.Store
	dim    int
	logger *zap.Logger
}

// NewImageThumbnailer builds a thumbnailer whose output fits in a dim x dim box.
func NewImageThumbnailer(store pipeline.Store, dim int, logger *zap.Logger) *ImageThumbnailer {
	if dim <= 0 {
		dim = 300
	}
	return &ImageThumbnailer{store: store, dim: dim, logger: logger}
}

// Generate writes <name>_thumb.jpg next to the source image and records it.
// An image that already has a thumbnail is returned unchanged.
func (t *ImageThumbnailer) Generate(ctx context.Context, img pipeline.Image) (pipeline.Image, error) {
	if img.ThumbnailPath != "" {
		if _, err := os.Stat(img.ThumbnailPath); err == nil {
			return img, nil
		}
	}

	thumbPath, err := t.render(img.Path)
	if err != nil {
		t.logger.Warn("thumbnail generation failed",
			zap.String("image_id", img.ID), zap.String("path", img.Path), zap.Error(err))
		return img, nil
	}

	img.ThumbnailPath = thumbPath
	if err := t.store.UpdateImage(ctx, img); err != nil {
		t.logger.Warn("recording thumbnail path failed",
			zap.String("image_id", img.ID), zap.Error(err))
		img.ThumbnailPath = ""
		return img, nil
	}
	return img, nil
}

func (t *ImageThumbnailer) render(srcPath string) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > h {
		h = h * t.dim / w
		w = t.dim
	} else {
		w = w * t.dim / h
		h = t.dim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	thumbPath := base + "_thumb.jpg"
	out, err := os.Create(thumbPath)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(out, dst, &jpeg.Options{Quality: 85}); err != nil {
		out.Close()
		os.Remove(thumbPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(thumbPath)
		return "", err
	}
	return thumbPath, nil
}
