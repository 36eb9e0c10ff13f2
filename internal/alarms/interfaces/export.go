package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "plantwatch/internal/alarms/domain"
)

// BuildAlarmsXLSX renders an alarm history workbook.
func BuildAlarmsXLSX(deviceCode string, list []alarms.Alarm) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "alarms"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Rule", "Field", "Level", "Status", "Trigger Value", "Triggered At", "Last Triggered At", "Trigger Count", "Resolved At", "Duration (s)", "Note"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, alarm := range list {
		row := i + 2
		values := []any{
			alarm.ID,
			alarm.RuleName,
			alarm.FieldCode,
			string(alarm.Level),
			alarm.Status,
			alarm.TriggerValue,
			alarm.TriggeredAt.Format(time.RFC3339),
			alarm.LastTriggeredAt.Format(time.RFC3339),
			alarm.TriggerCount,
			formatOptionalTime(alarm.ResolvedAt),
			alarm.DurationSeconds,
			alarm.ResolveNote,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}
	_ = f.SetCellValue(sheet, "N1", "Device")
	_ = f.SetCellValue(sheet, "N2", deviceCode)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlarmsPDF renders a minimal PDF alarm summary.
func BuildAlarmsPDF(deviceCode string, list []alarms.Alarm) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", deviceCode))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Field", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Triggered", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Count", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alarm := range list {
		pdf.CellFormat(45, 6, alarm.RuleName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, alarm.FieldCode, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(alarm.Level), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, alarm.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", alarm.TriggerValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(42, 6, alarm.TriggeredAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", alarm.TriggerCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(42, 6, formatOptionalTime(alarm.ResolvedAt), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatOptionalTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339)
}
