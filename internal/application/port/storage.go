package port

import "context"

// FileStorage stores uploaded receipts
type FileStorage interface {
	// Save writes data under a generated key keeping ext and returns the relative path
	Save(ctx context.Context, ext string, data []byte) (string, error)
	Read(ctx context.Context, relativePath string) ([]byte, error)
	Delete(ctx context.Context, relativePath string) error
	GetFullPath(relativePath string) string
	// Stage writes data to a scratch file outside the store for screening.
	// cleanup removes it and is safe to call more than once.
	Stage(ctx context.Context, ext string, data []byte) (fullPath string, cleanup func(), err error)
}
