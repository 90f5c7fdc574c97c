package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
)

const receiptsDir = "receipts"

// LocalFileStorage implements port.FileStorage for local filesystem
type LocalFileStorage struct {
	baseDir string
	// tempDir holds staged uploads; empty means os.TempDir
	tempDir string
	now     func() time.Time
	logger  *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir: baseDir,
		now:     time.Now,
		logger:  logger,
	}
}

// Save writes data to receipts/<yyyy>/<mm>/<ulid>.<ext> and returns that
// relative path. ULIDs keep one month's receipts in upload order.
func (s *LocalFileStorage) Save(ctx context.Context, ext string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := s.now().UTC()
	name := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	if ext = strings.Trim(strings.ToLower(ext), ". /\\"); ext != "" {
		name += "." + ext
	}
	relativePath := filepath.ToSlash(filepath.Join(receiptsDir, now.Format("2006"), now.Format("01"), name))

	fullPath := s.GetFullPath(relativePath)
	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}

	parentDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", parentDir),
			zap.Error(err))
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	// O_EXCL: never overwrite an existing receipt
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		s.logger.Error("Failed to create file", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(fullPath)
		s.logger.Error("Failed to write file", zap.String("path", fullPath), zap.Error(err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	s.logger.Debug("File saved successfully",
		zap.String("path", relativePath),
		zap.Int("size", len(data)))

	return relativePath, nil
}

// Read reads content from the specified relative path
func (s *LocalFileStorage) Read(ctx context.Context, relativePath string) ([]byte, error) {
	fullPath := s.GetFullPath(relativePath)
	if err := s.validatePath(fullPath); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		s.logger.Error("Failed to read file",
			zap.String("path", fullPath),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Delete removes a file. Missing files are not an error.
func (s *LocalFileStorage) Delete(ctx context.Context, relativePath string) error {
	fullPath := s.GetFullPath(relativePath)
	if err := s.validatePath(fullPath); err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to delete file",
			zap.String("path", fullPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Debug("File deleted", zap.String("path", relativePath))
	return nil
}

// Stage writes data to a fresh scratch file so an upload can be screened
// before anything lands under baseDir
func (s *LocalFileStorage) Stage(ctx context.Context, ext string, data []byte) (string, func(), error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	pattern := "receipt-*"
	if ext = strings.Trim(strings.ToLower(ext), ". /\\"); ext != "" {
		pattern += "." + ext
	}
	f, err := os.CreateTemp(s.tempDir, pattern)
	if err != nil {
		s.logger.Error("Failed to create staging file", zap.Error(err))
		return "", nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	fullPath := f.Name()

	cleanup := func() {
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			s.logger.Error("Failed to remove staging file", zap.String("path", fullPath), zap.Error(err))
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to close staging file: %w", err)
	}
	return fullPath, cleanup, nil
}

// GetFullPath converts a relative path to full path
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(relativePath))
}

// validatePath checks that the path is safe and within baseDir
func (s *LocalFileStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}

var _ port.FileStorage = (*LocalFileStorage)(nil)
