// Package voucher renders payment vouchers as Excel workbooks.
package voucher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/port"
)

const sheetName = "Voucher"

// Config holds voucher output settings
type Config struct {
	OutputDir   string
	CompanyName string
}

// PaymentVoucherWriter implements port.VoucherWriter with excelize
type PaymentVoucherWriter struct {
	outputDir   string
	companyName string
	now         func() time.Time
	logger      *zap.Logger
}

// NewPaymentVoucherWriter creates a new voucher writer
func NewPaymentVoucherWriter(cfg Config, logger *zap.Logger) *PaymentVoucherWriter {
	return &PaymentVoucherWriter{
		outputDir:   cfg.OutputDir,
		companyName: cfg.CompanyName,
		now:         time.Now,
		logger:      logger,
	}
}

// VoucherNumber formats the voucher number for an expense
func VoucherNumber(expenseID int64, at time.Time) string {
	return fmt.Sprintf("PV-%s-%06d", at.Format("200601"), expenseID)
}

// Write renders voucher_<expense id>.xlsx in the output directory and returns
// its path. Regenerating a voucher overwrites the previous file.
func (w *PaymentVoucherWriter) Write(ctx context.Context, v *port.PaymentVoucher) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create voucher directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}

	number := VoucherNumber(v.ExpenseID, w.now())
	rows := [][2]interface{}{
		{"Company", w.companyName},
		{"Voucher No.", number},
		{"Issued On", w.now().Format("2006-01-02")},
		{"Expense ID", v.ExpenseID},
		{"Payee", v.Payee},
		{"Payee Email", v.PayeeEmail},
		{"Category", v.Category},
		{"Description", v.Description},
		{"Expense Date", v.ExpenseDate},
		{"Amount (INR)", v.Amount.InexactFloat64()},
		{"Amount in Words", AmountInWords(v.Amount)},
		{"Approved By", v.ApprovedBy},
		{"Approved On", v.ApprovedAt},
		{"Reference", v.CorrelationID},
	}

	if err := f.SetCellValue(sheetName, "A1", "PAYMENT VOUCHER"); err != nil {
		return "", fmt.Errorf("failed to write title: %w", err)
	}
	for i, row := range rows {
		r := i + 3
		w.setCell(f, fmt.Sprintf("A%d", r), row[0])
		w.setCell(f, fmt.Sprintf("B%d", r), row[1])
	}

	if err := w.applyStyles(f, len(rows)+2); err != nil {
		w.logger.Warn("Failed to style voucher", zap.Int64("expense_id", v.ExpenseID), zap.Error(err))
	}

	outputPath := filepath.Join(w.outputDir, fmt.Sprintf("voucher_%d.xlsx", v.ExpenseID))
	if err := f.SaveAs(outputPath); err != nil {
		return "", fmt.Errorf("failed to save Excel file: %w", err)
	}

	w.logger.Info("Payment voucher written",
		zap.Int64("expense_id", v.ExpenseID),
		zap.String("voucher_number", number),
		zap.String("output_path", outputPath))
	return outputPath, nil
}

func (w *PaymentVoucherWriter) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		w.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func (w *PaymentVoucherWriter) applyStyles(f *excelize.File, lastRow int) error {
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", title); err != nil {
		return err
	}

	label, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A3", fmt.Sprintf("A%d", lastRow), label); err != nil {
		return err
	}

	// amount row is the 10th entry
	amount, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "B12", "B12", amount); err != nil {
		return err
	}

	if err := f.SetColWidth(sheetName, "A", "A", 20); err != nil {
		return err
	}
	return f.SetColWidth(sheetName, "B", "B", 60)
}

var _ port.VoucherWriter = (*PaymentVoucherWriter)(nil)
