package generator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime"
	"os"
	"path/filepath"

	"github.com/dreamware/boardcache/internal/artifact"
)

const thumbSize = 128

// GenericThumbnail writes the thumbnail shown for files without a preview.
// The configured image file is used when set, otherwise a plain placeholder.
func (g *Generator) GenericThumbnail(context.Context) error {
	g.verbosef("saving generic thumbnail")

	if g.opts.GenericThumb != "" {
		content, err := os.ReadFile(g.opts.GenericThumb)
		if err != nil {
			return fmt.Errorf("generic thumbnail: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(g.opts.GenericThumb))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return g.write(artifact.GenericThumbPath, mimeType, content)
	}

	content, err := placeholderThumb()
	if err != nil {
		return fmt.Errorf("generic thumbnail: %w", err)
	}
	return g.write(artifact.GenericThumbPath, "image/png", content)
}

func placeholderThumb() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, thumbSize, thumbSize))
	for y := 0; y < thumbSize; y++ {
		for x := 0; x < thumbSize; x++ {
			c := uint8(0xdd)
			if x == 0 || y == 0 || x == thumbSize-1 || y == thumbSize-1 {
				c = 0x99
			}
			img.SetGray(x, y, color.Gray{Y: c})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
