package checkin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hibridge/engine/generic"
)

// MaxPhotoBytes is the upload limit for check-in photos.
const MaxPhotoBytes = 5 << 20

var allowedPhotoTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Photo is an uploaded check-in photo.
type Photo struct {
	Filename string
	Data     []byte
}

// ValidatePhoto checks size, extension and sniffed content type.
// The extension and the bytes must agree.
func ValidatePhoto(p Photo) error {
	if len(p.Data) == 0 {
		return generic.NewValidationError("photo", "is required")
	}
	if len(p.Data) > MaxPhotoBytes {
		return generic.NewValidationError("photo", fmt.Sprintf("must be at most %d MB", MaxPhotoBytes>>20))
	}
	ext := strings.ToLower(filepath.Ext(p.Filename))
	want, ok := allowedPhotoTypes[ext]
	if !ok {
		return generic.NewValidationError("photo", "only jpg, jpeg and png files are allowed")
	}
	if !mimetype.Detect(p.Data).Is(want) {
		return generic.NewValidationError("photo", fmt.Sprintf("content is not %s", want))
	}
	return nil
}

// PhotoStore persists validated photos and returns their public path.
type PhotoStore interface {
	Save(p Photo) (string, error)
}

// DiskPhotoStore writes photos under Dir, named by content hash,
// and serves them below URLPrefix.
type DiskPhotoStore struct {
	Dir       string
	URLPrefix string
}

func NewDiskPhotoStore(dir string) (*DiskPhotoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskPhotoStore{Dir: dir, URLPrefix: "/uploads/"}, nil
}

func (s *DiskPhotoStore) Save(p Photo) (string, error) {
	sum := sha256.Sum256(p.Data)
	name := hex.EncodeToString(sum[:16]) + strings.ToLower(filepath.Ext(p.Filename))
	path := filepath.Join(s.Dir, name)

	// Same bytes, same name: an identical upload is already on disk.
	if _, err := os.Stat(path); err == nil {
		return s.URLPrefix + name, nil
	}
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		return "", generic.Persist("write photo", err)
	}
	return s.URLPrefix + name, nil
}
