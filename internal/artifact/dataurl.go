package artifact

import (
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/Art-Therapy-Chat/web-front/internal/errors"
)

var ErrInvalidImage = errors.NewSentinel("invalid image")

// DecodeDataURL decodes a canvas data URL such as "data:image/png;base64,iVBOR..." into the raw image bytes.
// A bare base64 payload without the data URL prefix is accepted too.
func DecodeDataURL(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:") {
		header, data, found := strings.Cut(payload, ",")
		if !found {
			return nil, errors.Wrap(ErrInvalidImage, "data URL without payload")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, errors.Wrap(ErrInvalidImage, "data URL is not base64 encoded", slog.String("header", header))
		}
		payload = data
	}
	if payload == "" {
		return nil, errors.Wrap(ErrInvalidImage, "empty image")
	}

	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidImage, err.Error())
	}
	return image, nil
}

// EncodeDataURL renders image as a data URL with the given MIME type.
func EncodeDataURL(mimeType string, image []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
}
