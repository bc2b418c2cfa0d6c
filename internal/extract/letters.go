package extract

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
)

// siteContextID is Moodle's system context, which holds the default letter scale.
const siteContextID int64 = 1

type letterBoundary struct {
	ContextID     int64   `db:"contextid"`
	Letter        string  `db:"letter"`
	LowerBoundary float64 `db:"lowerboundary"`
}

// LetterScales maps percentages to letters per Moodle context.
type LetterScales map[int64][]letterBoundary

func loadLetterScales(ctx context.Context, db *sqlx.DB, prefix string, contextIDs []int64) (LetterScales, error) {
	ids := append([]int64{siteContextID}, contextIDs...)
	query, args, err := sqlx.In(`SELECT contextid, letter, lowerboundary
		FROM `+prefix+`grade_letters
		WHERE contextid IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var rows []letterBoundary
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return newLetterScales(rows), nil
}

func newLetterScales(rows []letterBoundary) LetterScales {
	scales := make(LetterScales)
	for _, r := range rows {
		scales[r.ContextID] = append(scales[r.ContextID], r)
	}
	for id := range scales {
		scale := scales[id]
		sort.Slice(scale, func(i, j int) bool { return scale[i].LowerBoundary > scale[j].LowerBoundary })
	}
	return scales
}

// Letter returns the letter for percent using the course scale when the
// course defines one, otherwise the site scale. ok is false when no boundary fits.
func (s LetterScales) Letter(contextID int64, percent float64) (string, bool) {
	scale, found := s[contextID]
	if !found {
		scale = s[siteContextID]
	}
	for _, b := range scale {
		if percent >= b.LowerBoundary {
			return b.Letter, true
		}
	}
	return "", false
}
