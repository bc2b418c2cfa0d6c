package extract

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/storage"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

var hybridColumns = []string{"x_number", "course_number", "section_number", "grade", "grade_date"}

// columnAliases maps alternative header spellings onto the canonical column.
var columnAliases = map[string]string{
	"student_number": "x_number",
	"xnumber":        "x_number",
	"course":         "course_number",
	"section":        "section_number",
	"date":           "grade_date",
}

var gradeDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"01-02-06",
	"02 Jan 2006",
}

// HybridExtractor reads the hybrid master spreadsheet from object storage.
type HybridExtractor struct {
	store  storage.Storage
	prefix string
	log    zerolog.Logger
}

func NewHybridExtractor(store storage.Storage, prefix string) *HybridExtractor {
	return &HybridExtractor{store: store, prefix: prefix, log: logger.Component("extract-hybrid")}
}

// Extract parses the workbook at source, or the newest one under the
// configured prefix when source is empty.
func (e *HybridExtractor) Extract(ctx context.Context, source string) ([]model.GradeRow, error) {
	if e.store == nil {
		return nil, fmt.Errorf("hybrid master file needs object storage")
	}

	key := source
	if key == "" {
		latest, err := e.store.Latest(ctx, e.prefix)
		if err != nil {
			return nil, fmt.Errorf("find hybrid master file: %w", err)
		}
		key = latest
	}

	body, err := e.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer body.Close()

	e.log.Info().Str("key", key).Msg("Reading hybrid master file")
	return ParseMasterFile(body)
}

// ParseMasterFile reads the first worksheet of an xlsx workbook. Rows missing a
// required value are skipped; a malformed grade date fails the whole file.
func ParseMasterFile(r io.Reader) ([]model.GradeRow, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", errors.ErrInvalidFileFormat)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.ErrInvalidFileFormat
	}

	rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	if len(rows) < 1 {
		return nil, errors.ErrInvalidFileFormat
	}

	columnMap := make(map[string]int)
	for i, col := range rows[0] {
		name := strings.ToLower(strings.TrimSpace(col))
		if alias, ok := columnAliases[name]; ok {
			name = alias
		}
		if _, dup := columnMap[name]; !dup {
			columnMap[name] = i
		}
	}
	for _, col := range hybridColumns {
		if _, exists := columnMap[col]; !exists {
			return nil, fmt.Errorf("missing required column %s: %w", col, errors.ErrSchemaValidation)
		}
	}

	var grades []model.GradeRow
	for i, row := range rows[1:] {
		grade, ok, err := parseMasterRow(row, columnMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		if ok {
			grades = append(grades, grade)
		}
	}
	return dedupe(grades), nil
}

func parseMasterRow(row []string, columnMap map[string]int) (model.GradeRow, bool, error) {
	getValue := func(colName string) string {
		if idx, exists := columnMap[colName]; exists && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	grade := model.GradeRow{
		StudentNumber: strings.ToUpper(getValue("x_number")),
		CourseNumber:  getValue("course_number"),
		SectionNumber: getValue("section_number"),
		Grade:         getValue("grade"),
	}
	rawDate := getValue("grade_date")
	if grade.StudentNumber == "" || grade.CourseNumber == "" || grade.SectionNumber == "" || grade.Grade == "" || rawDate == "" {
		return model.GradeRow{}, false, nil
	}

	date, err := parseGradeDate(rawDate)
	if err != nil {
		return model.GradeRow{}, false, err
	}
	grade.GradeDate = date
	return grade, true, nil
}

// parseGradeDate accepts the text layouts operators type and Excel serial numbers.
func parseGradeDate(value string) (time.Time, error) {
	for _, layout := range gradeDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, errors.ValidationError{
		Field:   "grade_date",
		Value:   value,
		Message: "unrecognized date",
	}
}
