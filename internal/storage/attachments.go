// Package storage persists work-order evidence files on local disk, keyed by
// work-order id and update id. Files are written before the owning WorkUpdate
// is committed to the database: an orphaned file is recoverable, a dangling
// reference is not.
package storage

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fabrixhq/fieldops/internal/models"
)

// Kind selects the validation rules for an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindVoice Kind = "voice"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

var voiceExtensions = map[string]bool{
	".m4a": true, ".aac": true, ".mp3": true, ".wav": true, ".ogg": true,
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttachmentStore writes and serves evidence files under a fixed root.
type AttachmentStore struct {
	root   string
	logger *slog.Logger
}

// NewAttachmentStore creates the store and its workorders directory.
func NewAttachmentStore(root string, logger *slog.Logger) (*AttachmentStore, error) {
	s := &AttachmentStore{root: root, logger: logger}
	if err := os.MkdirAll(s.workOrderRoot(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload root: %w", err)
	}
	return s, nil
}

func (s *AttachmentStore) workOrderRoot() string {
	return filepath.Join(s.root, "workorders")
}

// UpdateDir returns the directory holding one update's files.
func (s *AttachmentStore) UpdateDir(workOrderID, updateID string) string {
	return filepath.Join(s.workOrderRoot(), workOrderID, updateID)
}

// SanitizeFilename strips any path components and replaces characters that
// are not safe in a filename. Returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	return name
}

// Save validates and persists one uploaded file into the update directory,
// returning attachment metadata with the retrieval URL. Fails with
// ErrInvalidFileType when the extension is not allowed for the kind.
func (s *AttachmentStore) Save(file multipart.File, header *multipart.FileHeader, kind Kind, workOrderID, updateID string) (*models.Attachment, error) {
	filename := SanitizeFilename(header.Filename)
	if filename == "" {
		// Synthesize a name from the declared content type
		ext := ""
		if declared := header.Header.Get("Content-Type"); declared != "" {
			if exts, err := mime.ExtensionsByType(declared); err == nil && len(exts) > 0 {
				ext = exts[0]
			}
		}
		filename = string(kind) + ext
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch kind {
	case KindImage:
		if !imageExtensions[ext] {
			return nil, fmt.Errorf("%w: invalid image type: %s", models.ErrInvalidFileType, ext)
		}
	case KindVoice:
		if !voiceExtensions[ext] {
			return nil, fmt.Errorf("%w: invalid audio type: %s", models.ErrInvalidFileType, ext)
		}
	default:
		return nil, fmt.Errorf("%w: unknown attachment kind %q", models.ErrInvalidFileType, kind)
	}

	destDir := s.UpdateDir(workOrderID, updateID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create update directory: %w", err)
	}

	finalName := resolveCollision(destDir, filename)
	outPath := filepath.Join(destDir, finalName)

	size, err := writeFile(outPath, file)
	if err != nil {
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(ext)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &models.Attachment{
		Name: finalName,
		URL:  fmt.Sprintf("/mobile/uploads/workorders/%s/%s/%s", workOrderID, updateID, finalName),
		MIME: mimeType,
		Size: size,
	}, nil
}

// resolveCollision appends _2, _3, ... before the extension until the name is
// free within the directory.
func resolveCollision(dir, filename string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	finalName := filename
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, finalName)); os.IsNotExist(err) {
			return finalName
		}
		finalName = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
}

func writeFile(path string, src io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}

	return size, nil
}

// DiscardUpdate removes every file written for the update and its directory.
// Best-effort: failures are logged, never returned, so a rollback cannot mask
// the validation error that triggered it.
func (s *AttachmentStore) DiscardUpdate(workOrderID, updateID string) {
	dir := s.UpdateDir(workOrderID, updateID)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to discard update directory",
			slog.String("dir", dir),
			slog.Any("error", err))
	}
}

// Open returns the stored file for streaming. The filename is sanitized again
// so a crafted path cannot escape the update directory.
func (s *AttachmentStore) Open(workOrderID, updateID, filename string) (*os.File, error) {
	safe := SanitizeFilename(filename)
	if safe == "" || safe != filename {
		return nil, models.ErrNotFound
	}

	f, err := os.Open(filepath.Join(s.UpdateDir(workOrderID, updateID), safe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}
