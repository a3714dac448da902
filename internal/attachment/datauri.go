// Package attachment выгружает фотографии отчётов в объектное хранилище.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const defaultExtension = "jpg"

// ErrMalformedPayload встроенная фотография не является корректным data URI
var ErrMalformedPayload = errors.New("malformed embedded payload")

var imageSubtype = regexp.MustCompile(`^image/(\w+)$`)

// Payload раскодированное содержимое data URI
type Payload struct {
	MediaType string
	Data      []byte
}

// IsEmbedded true, если фотография ещё не выгружена и хранится в отчёте целиком
func IsEmbedded(photo string) bool {
	return strings.HasPrefix(photo, "data:")
}

// ParseDataURI разбирает строку вида data:<mediatype>;base64,<data>
func ParseDataURI(uri string) (*Payload, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrMalformedPayload)
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing data separator", ErrMalformedPayload)
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return nil, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformedPayload)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}

	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return &Payload{MediaType: strings.ToLower(mediaType), Data: data}, nil
}

// Extension расширение файла по media type: image/png -> png, иначе jpg
func Extension(mediaType string) string {
	if m := imageSubtype.FindStringSubmatch(strings.ToLower(mediaType)); m != nil {
		return m[1]
	}
	return defaultExtension
}

// ObjectName имя объекта {reportID}_{unix millis}.{ext}
func ObjectName(reportID string, at time.Time, mediaType string) string {
	return fmt.Sprintf("%s_%d.%s", reportID, at.UnixMilli(), Extension(mediaType))
}
