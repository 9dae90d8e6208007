package sandbox

import (
	"encoding/base64"
	"errors"
	"strings"
)

var ErrNotDataURI = errors.New("not a base64 data URI")

// SplitDataURI returns the media type and the base64 payload of a
// "data:<type>;base64,<payload>" URI as produced for captured figures.
func SplitDataURI(uri string) (mediaType, payload string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", ErrNotDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", ErrNotDataURI
	}
	mediaType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", ErrNotDataURI
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return mediaType, payload, nil
}

// DecodeDataURI is SplitDataURI followed by base64 decoding.
func DecodeDataURI(uri string) (mediaType string, data []byte, err error) {
	mediaType, payload, err := SplitDataURI(uri)
	if err != nil {
		return "", nil, err
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mediaType, data, nil
}
