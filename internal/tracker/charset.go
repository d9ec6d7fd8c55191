package tracker

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultCharset is used when no charset is configured
const DefaultCharset = "utf-8"

// ErrInvalidCharset is returned for unknown or unsupported charsets
var ErrInvalidCharset = errors.New("invalid charset")

// lookupCharset resolves a charset label to its encoding and canonical name.
// Line terminators are detected on raw bytes, so only ASCII-compatible
// encodings are accepted.
func lookupCharset(label string) (encoding.Encoding, string, error) {
	if strings.TrimSpace(label) == "" {
		label = DefaultCharset
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidCharset, label)
	}

	name, err := htmlindex.Name(enc)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidCharset, label)
	}
	if strings.HasPrefix(name, "utf-16") || name == "replacement" {
		return nil, "", fmt.Errorf("%w: %q is not ASCII compatible", ErrInvalidCharset, label)
	}

	return enc, name, nil
}
