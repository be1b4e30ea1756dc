// Package imageio decodes encoded images into image buffers. JPEG EXIF
// orientation is applied so the buffer is upright.
package imageio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
)

// Decode reads an encoded JPEG, PNG, GIF, BMP or TIFF image
func Decode(r io.Reader) (*imagebuf.Buffer, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrInvalidImage, err)
	}
	return imagebuf.FromImage(img)
}

// DecodeBytes decodes an in-memory encoded image
func DecodeBytes(data []byte) (*imagebuf.Buffer, error) {
	return Decode(bytes.NewReader(data))
}
