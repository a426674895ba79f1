package meta

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/franz/media-catalog/internal/util"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// CharsetValidator checks that file paths are representable in the
// configured charset before they are inserted
type CharsetValidator struct {
	name string
	enc  encoding.Encoding // nil for UTF-8
}

// NewCharsetValidator resolves a charset label such as "UTF-8" or
// "ISO-8859-1". An empty label means UTF-8.
func NewCharsetValidator(label string) (*CharsetValidator, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "utf-8"
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown charset %q", util.ErrInvalidConfig, label)
	}
	name, _ := htmlindex.Name(enc)

	v := &CharsetValidator{name: name}
	if name != "utf-8" {
		v.enc = enc
	}
	return v, nil
}

// Name returns the canonical charset name
func (v *CharsetValidator) Name() string {
	return v.name
}

// Validate returns an ErrEncoding report entry when path cannot be
// represented in the charset
func (v *CharsetValidator) Validate(path string) error {
	if !utf8.ValidString(path) {
		return util.NewSyncError(util.ErrEncoding, path, fmt.Errorf("path is not valid %s", v.name))
	}
	if v.enc == nil {
		return nil
	}
	if _, err := v.enc.NewEncoder().String(path); err != nil {
		return util.NewSyncError(util.ErrEncoding, path, fmt.Errorf("path does not encode as %s: %w", v.name, err))
	}
	return nil
}
