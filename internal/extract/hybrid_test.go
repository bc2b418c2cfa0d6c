package extract

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"sis-grade-sync/internal/storage"
	"sis-grade-sync/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type memoryStore struct {
	objects map[string][]byte
	latest  string
}

func (m *memoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data io.ReadSeeker, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStore) Latest(_ context.Context, prefix string) (string, error) {
	if !strings.HasPrefix(m.latest, prefix) {
		return "", storage.ErrNotFound
	}
	return m.latest, nil
}

func workbook(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseMasterFile(t *testing.T) {
	data := workbook(t,
		[]interface{}{"X_Number", "Course_Number", "Section_Number", "Grade", "Grade_Date"},
		[]interface{}{"x001688", "ACCT 2001", "003", "A-", "2023-04-13"},
		[]interface{}{"X001689", "ACCT 2001", "003", "Withdrawal", "4/13/2023"},
		[]interface{}{"X001690", "ACCT 2001", "003", "B", 45029},
		[]interface{}{"X001691", "ACCT 2001", "", "B", "2023-04-13"},
		[]interface{}{"X001688", "ACCT 2001", "003", "A-", "13 Apr 2023"},
	)

	rows, err := ParseMasterFile(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	want := time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "X001688", rows[0].StudentNumber)
	assert.Equal(t, "ACCT 2001", rows[0].CourseNumber)
	assert.Equal(t, "003", rows[0].SectionNumber)
	assert.Equal(t, "A-", rows[0].Grade)
	for _, r := range rows {
		assert.Equal(t, want, r.GradeDate, r.StudentNumber)
	}
	assert.Equal(t, "Withdrawal", rows[1].Grade)
}

func TestParseMasterFile_Aliases(t *testing.T) {
	data := workbook(t,
		[]interface{}{"student_number", "course", "section", "grade", "date"},
		[]interface{}{"X001688", "ACCT 2001", "003", "A-", "04/13/2023"},
	)

	rows, err := ParseMasterFile(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "X001688", rows[0].StudentNumber)
}

func TestParseMasterFile_Errors(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		data := workbook(t,
			[]interface{}{"x_number", "course_number", "grade", "grade_date"},
			[]interface{}{"X001688", "ACCT 2001", "A-", "2023-04-13"},
		)
		_, err := ParseMasterFile(bytes.NewReader(data))
		assert.ErrorIs(t, err, errors.ErrSchemaValidation)
	})

	t.Run("bad date", func(t *testing.T) {
		data := workbook(t,
			[]interface{}{"x_number", "course_number", "section_number", "grade", "grade_date"},
			[]interface{}{"X001688", "ACCT 2001", "003", "A-", "sometime"},
		)
		_, err := ParseMasterFile(bytes.NewReader(data))
		var verr errors.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "grade_date", verr.Field)
	})

	t.Run("not a workbook", func(t *testing.T) {
		_, err := ParseMasterFile(strings.NewReader("x_number,course_number\n"))
		assert.ErrorIs(t, err, errors.ErrInvalidFileFormat)
	})
}

func TestHybridExtractor_UsesLatestWhenSourceEmpty(t *testing.T) {
	data := workbook(t,
		[]interface{}{"x_number", "course_number", "section_number", "grade", "grade_date"},
		[]interface{}{"X001688", "ACCT 2001", "003", "A-", "2023-04-13"},
	)
	store := &memoryStore{
		objects: map[string][]byte{"hybrid/2023-04-14.xlsx": data},
		latest:  "hybrid/2023-04-14.xlsx",
	}
	extractor := NewHybridExtractor(store, "hybrid/")

	rows, err := extractor.Extract(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = extractor.Extract(context.Background(), "hybrid/missing.xlsx")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
