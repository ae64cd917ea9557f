package batch

import (
	"encoding/base64"

	"github.com/cozy-creator/captioner/internal/utils/imageutil"
)

// EncodeImage re-encodes an image file as an RGB JPEG and returns it as
// plain base64 without a data URI prefix.
func EncodeImage(path string) (string, error) {
	img, err := imageutil.Open(path)
	if err != nil {
		return "", err
	}

	data, err := imageutil.EncodeJPEG(imageutil.ToRGB(img, 0), imageutil.DefaultJPEGQuality)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
