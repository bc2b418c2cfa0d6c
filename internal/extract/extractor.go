package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/pkg/errors"

	"github.com/rs/zerolog"
)

// Extractor produces candidate grade rows for one pipeline. source names an
// input file for pipelines that read one and is ignored by the others.
type Extractor interface {
	Extract(ctx context.Context, source string) ([]model.GradeRow, error)
}

// Stager is the ledger write the service needs.
type Stager interface {
	StageGrades(ctx context.Context, pipeline model.Pipeline, rows []model.GradeRow) (int, error)
}

type StageResult struct {
	Extracted int
	Invalid   int
	Staged    int
	Problems  []error
}

// Service runs an extractor and stages its valid rows into the ledger.
type Service struct {
	extractors map[model.Pipeline]Extractor
	repo       Stager
	validator  *Validator
	log        zerolog.Logger
}

func NewService(repo Stager, extractors map[model.Pipeline]Extractor) *Service {
	return &Service{
		extractors: extractors,
		repo:       repo,
		validator:  NewValidator(),
		log:        logger.Component("extract"),
	}
}

func (s *Service) Stage(ctx context.Context, pipeline model.Pipeline, source string) (*StageResult, error) {
	extractor, ok := s.extractors[pipeline]
	if !ok {
		return nil, fmt.Errorf("%s: %w", pipeline, errors.ErrUnknownPipeline)
	}

	log := s.log.With().Str("pipeline", string(pipeline)).Logger()

	rows, err := extractor.Extract(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("extract %s grades: %w", pipeline, err)
	}

	valid, problems := s.validator.Validate(rows)
	for _, p := range problems {
		log.Warn().Err(p).Msg("Skipping invalid grade row")
	}

	staged, err := s.repo.StageGrades(ctx, pipeline, valid)
	if err != nil {
		return nil, fmt.Errorf("stage %s grades: %w", pipeline, err)
	}

	log.Info().
		Int("extracted", len(rows)).
		Int("invalid", len(problems)).
		Int("staged", staged).
		Msg("Grades staged")

	return &StageResult{
		Extracted: len(rows),
		Invalid:   len(problems),
		Staged:    staged,
		Problems:  problems,
	}, nil
}

// dedupe drops rows repeating the ledger's unique key: student, section, grade and date.
func dedupe(rows []model.GradeRow) []model.GradeRow {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, r := range rows {
		key := strings.Join([]string{r.StudentNumber, r.CourseNumber, r.SectionNumber, r.Grade,
			r.GradeDate.Format("2006-01-02")}, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// calendarDate maps a unix timestamp to its calendar day in loc, stored as a UTC midnight.
func calendarDate(unix int64, loc *time.Location) time.Time {
	y, m, d := time.Unix(unix, 0).In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
