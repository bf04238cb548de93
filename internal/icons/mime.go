package icons

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
)

// ErrEmptyExtension is returned for files without an extension.
var ErrEmptyExtension = errors.New("empty extension")

// ErrUnknownExtension is returned when no MIME type is registered.
var ErrUnknownExtension = errors.New("no icon registered for extension")

// MimeSource derives freedesktop icon names from the system MIME table.
type MimeSource struct{}

// FileIcon maps ext to "<major>-<minor>" with a "<major>-x-generic" fallback family.
func (MimeSource) FileIcon(ctx context.Context, ext string) (Icon, error) {
	if err := ctx.Err(); err != nil {
		return Icon{}, err
	}
	if ext == "" {
		return Icon{}, ErrEmptyExtension
	}

	mt := mime.TypeByExtension("." + ext)
	if mt == "" {
		return Icon{}, fmt.Errorf("%w: .%s", ErrUnknownExtension, ext)
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}

	major, _, ok := strings.Cut(mt, "/")
	if !ok {
		return Icon{}, fmt.Errorf("%w: malformed type %q", ErrUnknownExtension, mt)
	}

	name := strings.ReplaceAll(mt, "/", "-")
	switch major {
	case "text", "image", "audio", "video", "font":
		// generic family icons exist for these majors
		if strings.HasPrefix(mt, major+"/x-") || mt == "text/plain" {
			name = major + "-x-generic"
		}
	}
	return Icon{Name: name, MimeType: mt}, nil
}
