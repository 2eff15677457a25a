// Package imageio turns uploaded bytes into images the detector can consume.
package imageio

import (
	"bytes"
	"image"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/visionflow/visionflow/internal/ai"
	"github.com/visionflow/visionflow/internal/errors"
)

// SupportedContentTypes lists the accepted upload media types
var SupportedContentTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/bmp",
	"image/tiff",
}

var supportedFormats = map[string]struct{}{
	"jpeg": {},
	"png":  {},
	"webp": {},
	"bmp":  {},
	"tiff": {},
}

// IsSupportedContentType reports whether contentType is an accepted image
// media type. An empty content type is accepted and sniffed on decode.
func IsSupportedContentType(contentType string) bool {
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "image/jpg" {
		return true
	}
	for _, ct := range SupportedContentTypes {
		if ct == mediaType {
			return true
		}
	}
	return false
}

// Decode validates and decodes an uploaded image. EXIF orientation is
// applied to JPEGs so boxes match what the uploader sees.
func Decode(contentType string, data []byte) (ai.Image, error) {
	if !IsSupportedContentType(contentType) {
		return ai.Image{}, errors.NewValidationError("unsupported content type %q", contentType)
	}
	if len(data) == 0 {
		return ai.Image{}, errors.NewValidationError("empty image upload")
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ai.Image{}, errors.WrapValidation(err, "unable to decode image")
	}
	if _, ok := supportedFormats[format]; !ok {
		return ai.Image{}, errors.NewValidationError("unsupported image format %q", format)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return ai.Image{}, errors.WrapValidation(err, "unable to decode image")
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return ai.Image{}, errors.NewValidationError("image has no pixels")
	}

	return ai.NewImage(img, channels(img)), nil
}

func channels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	default:
		return 3
	}
}
