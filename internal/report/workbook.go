package report

import (
	"bytes"
	"fmt"

	"sis-grade-sync/internal/model"

	"github.com/xuri/excelize/v2"
)

const (
	ledgerSheet  = "Ledger"
	summarySheet = "Summary"
)

var ledgerHeader = []interface{}{
	"ID", "Pipeline", "Student Number", "Course", "Section", "Grade", "Grade Date",
	"Remote Section ID", "Status", "Reason", "Posted At",
}

// BuildWorkbook writes the ledger rows and their status counts to an xlsx workbook.
func BuildWorkbook(records []model.GradeRecord, summary *model.LedgerSummary) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(ledgerSheet, "A1", &ledgerHeader); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(ledgerHeader), 1)
	if err := f.SetCellStyle(ledgerSheet, "A1", last, headerStyle); err != nil {
		return nil, err
	}
	_ = f.SetColWidth(ledgerSheet, "C", "F", 16)
	_ = f.SetColWidth(ledgerSheet, "J", "J", 40)

	for i, r := range records {
		row := []interface{}{
			r.ID, string(r.Pipeline), r.StudentNumber, r.CourseNumber, r.SectionNumber, r.GradeValue,
			r.GradeDate.Format("2006-01-02"), deref(r.RemoteSectionID), string(r.PostStatus), deref(r.Reason), "",
		}
		if r.PostedAt != nil {
			row[10] = r.PostedAt.Format("2006-01-02 15:04:05")
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write ledger row %d: %w", i+2, err)
		}
	}

	if summary != nil {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return nil, err
		}
		rows := [][]interface{}{
			{"Pipeline", string(summary.Pipeline)},
			{"Total", summary.Total},
			{"Pending", summary.Pending},
			{"Posted", summary.Posted},
			{"Failed", summary.Failed},
			{"Unresolved sections", summary.Unresolved},
		}
		for _, msg := range summary.Errors {
			rows = append(rows, []interface{}{"Failure reason", msg})
		}
		for i := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
				return nil, err
			}
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
