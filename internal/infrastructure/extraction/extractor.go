// Package extraction reads receipt text for screening and guesses the
// claimed amount from it.
package extraction

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
	"github.com/garyjia/expense-workflow/internal/domain/entity"
)

const defaultMaxPages = 5

// DocumentExtractor implements port.TextExtractor for PDF, spreadsheet,
// Word and plain-text receipts. Images carry no text layer and yield an
// empty extraction.
type DocumentExtractor struct {
	maxPages int
	logger   *zap.Logger
}

// NewDocumentExtractor creates a new extractor reading at most maxPages PDF pages
func NewDocumentExtractor(maxPages int, logger *zap.Logger) *DocumentExtractor {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &DocumentExtractor{maxPages: maxPages, logger: logger}
}

// Extract reads the file's text and guesses its total
func (e *DocumentExtractor) Extract(ctx context.Context, path, fileType string) (*port.Extraction, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("receipt file not found: %w", err)
	}

	var (
		text string
		err  error
	)
	switch strings.ToLower(fileType) {
	case entity.FileTypePDF:
		text, err = e.readPDF(ctx, path)
	case entity.FileTypeXLSX:
		text, err = readSpreadsheet(path)
	case entity.FileTypeDOCX:
		text, err = readWordDocument(path)
	case entity.FileTypeTXT:
		var data []byte
		data, err = os.ReadFile(path)
		text = string(data)
	case entity.FileTypeJPG, entity.FileTypeJPEG, entity.FileTypePNG:
		e.logger.Debug("No text layer in image receipt", zap.String("path", path))
		return &port.Extraction{}, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
	if err != nil {
		e.logger.Warn("Failed to extract receipt text",
			zap.String("path", path),
			zap.String("file_type", fileType),
			zap.Error(err))
		return nil, err
	}

	text = strings.TrimSpace(text)
	result := &port.Extraction{Text: text, Amount: GuessAmount(text)}

	fields := []zap.Field{
		zap.String("file_type", fileType),
		zap.Int("text_length", len(text)),
	}
	if result.Amount != nil {
		fields = append(fields, zap.String("amount_guess", result.Amount.StringFixed(2)))
	}
	e.logger.Info("Extracted receipt text", fields...)
	return result, nil
}

// readPDF collects the text layer of the first maxPages pages
func (e *DocumentExtractor) readPDF(ctx context.Context, path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > e.maxPages {
		pages = e.maxPages
	}

	var sb strings.Builder
	for n := 0; n < pages; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageText, err := doc.Text(n)
		if err != nil {
			e.logger.Warn("Failed to read PDF page", zap.Int("page", n), zap.Error(err))
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// readSpreadsheet joins every non-empty cell, one row per line
func readSpreadsheet(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell = strings.TrimSpace(cell); cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				sb.WriteString(strings.Join(cells, " "))
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}

// readWordDocument pulls the w:t runs out of word/document.xml, one
// paragraph per line
func readWordDocument(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document body: %w", err)
		}
		defer rc.Close()
		return documentText(rc)
	}
	return "", errors.New("document body not found")
}

func documentText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse document body: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inText = t.Name.Local == "t"
			if t.Name.Local == "tab" {
				sb.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
}

var _ port.TextExtractor = (*DocumentExtractor)(nil)
