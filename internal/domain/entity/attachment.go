package entity

import "time"

// Allowed receipt file types
const (
	FileTypePDF  = "pdf"
	FileTypeJPG  = "jpg"
	FileTypeJPEG = "jpeg"
	FileTypePNG  = "png"
	FileTypeDOCX = "docx"
	FileTypeTXT  = "txt"
	FileTypeXLSX = "xlsx"
)

// Attachment is a receipt stored for an expense. ContentHash is unique
// across all attachments.
type Attachment struct {
	ID           int64     `json:"id"`
	ExpenseID    int64     `json:"expense_id"`
	OriginalName string    `json:"original_name"`
	StoragePath  string    `json:"storage_path"`
	FileType     string    `json:"file_type"`
	Size         int64     `json:"size"`
	ContentHash  string    `json:"content_hash"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// IsPDF returns true if the receipt is a PDF document
func (a *Attachment) IsPDF() bool {
	return a.FileType == FileTypePDF
}
