// Package app builds the long-lived dependencies shared by the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"sis-grade-sync/internal/config"
	"sis-grade-sync/internal/db"
	"sis-grade-sync/internal/enrollment"
	"sis-grade-sync/internal/extract"
	"sis-grade-sync/internal/jobs"
	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/notify"
	"sis-grade-sync/internal/posting"
	"sis-grade-sync/internal/report"
	"sis-grade-sync/internal/sis"
	"sis-grade-sync/internal/storage"
	"sis-grade-sync/internal/visibility"

	"github.com/jmoiron/sqlx"
)

// App holds the database handle, repositories and services of one process.
type App struct {
	Config   *config.Config
	DB       *sqlx.DB
	Location *time.Location
	Storage  storage.Storage

	Grades      db.GradeRepository
	Courses     db.CourseRepository
	Enrollments db.EnrollmentRepository

	SIS        *sis.Client
	Extract    *extract.Service
	Posting    *posting.Service
	Visibility *visibility.Service
	Enrollment *enrollment.Service
	Publisher  *report.Publisher
	Notifier   notify.Notifier
	Runner     *jobs.Runner
}

// New connects to MySQL and wires every service. The caller owns Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Component("app")

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	database, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		DB:          database,
		Location:    loc,
		Grades:      db.NewGradeRepository(database),
		Courses:     db.NewCourseRepository(database),
		Enrollments: db.NewEnrollmentRepository(database, cfg.Database.Prefix),
	}

	if cfg.Storage.S3.Enabled() {
		store, err := storage.NewS3Storage(cfg.Storage.S3)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to init storage: %w", err)
		}
		a.Storage = store
	} else {
		log.Info().Msg("S3 storage not configured; hybrid pipeline and ledger reports disabled")
	}

	sink, err := sis.NewDebugSink(cfg.SIS, a.Storage)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.SIS = sis.NewClient(cfg.SIS, sink)

	a.Extract = extract.NewService(a.Grades, a.extractors())
	a.Posting = posting.NewService(a.Grades, a.SIS, cfg.SIS, cfg.Posting)
	a.Visibility = visibility.NewService(a.Courses, a.SIS, cfg.SIS)
	a.Enrollment = enrollment.NewService(a.Enrollments, a.SIS, cfg.SIS, cfg.Enrollment, loc)
	a.Publisher = report.NewPublisher(a.Grades, a.Storage, cfg.Storage.S3.ReportPrefix)
	a.Notifier = notify.New(cfg.Notify, cfg.App.Name)

	a.Runner = jobs.NewRunner(jobs.Deps{
		Stager:     a.Extract,
		Poster:     a.Posting,
		Visibility: a.Visibility,
		Enrollment: a.Enrollment,
		Publisher:  a.Publisher,
		Notifier:   a.Notifier,
	})

	return a, nil
}

func (a *App) extractors() map[model.Pipeline]extract.Extractor {
	prefix := a.Config.Database.Prefix
	extractors := map[model.Pipeline]extract.Extractor{
		model.PipelineODL: extract.NewODLExtractor(a.DB, prefix, a.Location),
		model.PipelinePD:  extract.NewPDExtractor(a.DB, prefix, a.Location, time.Unix(a.Config.Posting.PDSince, 0)),
	}
	if a.Storage != nil {
		extractors[model.PipelineHybrid] = extract.NewHybridExtractor(a.Storage, a.Config.Posting.HybridKey)
	}
	return extractors
}

// Migrate applies the sis_* schema migrations.
func (a *App) Migrate() error {
	return db.RunMigrations(a.DB.DB)
}

func (a *App) Close() error {
	return a.DB.Close()
}
