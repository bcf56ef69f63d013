package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/docvisionhq/docvision/constants"
)

// File is one uploaded document. Immutable once received; owned by the
// request scope.
type File struct {
	Filename    string
	Content     []byte
	ContentType string // declared media type from the multipart part
}

// Ext returns the normalized file extension without the dot.
func (f File) Ext() string {
	return constants.NormalizeExt(filepath.Ext(f.Filename))
}

// Format returns constants.PDF, constants.IMAGE, or "" for disallowed types.
func (f File) Format() string {
	return constants.MapExtToFormat(f.Ext())
}

// IsPDF reports whether the file is a PDF by extension.
func (f File) IsPDF() bool {
	return f.Format() == constants.PDF
}

// ContentKey derives the cache identity for a file: the filename joined with
// a sha256 digest of the content. Identical bytes under a different filename
// produce distinct keys on purpose.
func ContentKey(f File) string {
	sum := sha256.Sum256(f.Content)
	return f.Filename + "_" + hex.EncodeToString(sum[:])
}
