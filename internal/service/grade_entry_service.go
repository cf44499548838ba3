package service

import (
	"context"
	"fmt"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/logger"
	"gradebook_backend/pkg/monitoring"
	"gradebook_backend/pkg/notify"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GradeEntry is one row of instructor grade input. A null score clears the
// score but keeps the row.
type GradeEntry struct {
	StudentID   uint                `json:"studentId" binding:"required"`
	Score       decimal.NullDecimal `json:"score"`
	Feedback    string              `json:"feedback"`
	IsExcused   bool                `json:"isExcused"`
	SubmittedAt *time.Time          `json:"submittedAt"`
}

type GradeEntryResult struct {
	StudentID uint         `json:"studentId"`
	OK        bool         `json:"ok"`
	Grade     *model.Grade `json:"grade,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type BulkGradeResult struct {
	BatchID     string             `json:"batchId"`
	GradeItemID uint               `json:"gradeItemId"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Rows        []GradeEntryResult `json:"rows"`
}

type GradeEntryService struct {
	DB            *gorm.DB
	GradebookRepo *repository.GradebookRepository
	Gradebook     *GradebookService
	Publisher     notify.Publisher
	Now           func() time.Time
}

func NewGradeEntryService(db *gorm.DB, gradebookRepo *repository.GradebookRepository, gradebook *GradebookService, publisher notify.Publisher) *GradeEntryService {
	if publisher == nil {
		publisher = notify.LogPublisher{}
	}
	return &GradeEntryService{
		DB:            db,
		GradebookRepo: gradebookRepo,
		Gradebook:     gradebook,
		Publisher:     publisher,
		Now:           time.Now,
	}
}

// scoreWrite is a score assignment on one (student, item) grade row.
type scoreWrite struct {
	StudentID   uint
	Score       decimal.NullDecimal
	Feedback    *string
	IsExcused   *bool
	SubmittedAt *time.Time
	GradedBy    uint
}

// writeGrade upserts the grade row of w.StudentID on item. posted is true when
// the score went from null to a value.
func writeGrade(repo *repository.GradebookRepository, item *model.GradeItem, w scoreWrite, now time.Time) (*model.Grade, bool, error) {
	if w.Score.Valid {
		if w.Score.Decimal.IsNegative() || w.Score.Decimal.GreaterThan(item.MaxScore) {
			return nil, false, util.NewValidationError("score out of range", util.FieldError{
				Field: "score",
				Error: fmt.Sprintf("score must be between 0 and %s", item.MaxScore.String()),
			})
		}
	}

	g, err := repo.FindGradeForUpdate(w.StudentID, item.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		g = &model.Grade{StudentID: w.StudentID, GradeItemID: item.ID}
	} else if err != nil {
		return nil, false, err
	}

	hadScore := g.Score.Valid
	g.Score = w.Score
	if w.Feedback != nil {
		g.Feedback = *w.Feedback
	}
	if w.IsExcused != nil {
		g.IsExcused = *w.IsExcused
	}
	if w.SubmittedAt != nil {
		g.SubmittedAt = w.SubmittedAt
	}
	g.IsLate = g.SubmittedAt != nil && item.DueDate != nil && g.SubmittedAt.After(*item.DueDate)
	if g.Score.Valid {
		if g.GradedAt == nil {
			g.GradedAt = &now
		}
		g.GradedBy = w.GradedBy
	}

	if err := repo.SaveGrade(g); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, util.ErrConcurrentWrite
		}
		return nil, false, err
	}
	return g, !hadScore && g.Score.Valid, nil
}

func gradePostedEvent(g *model.Grade, courseID uint, at time.Time) notify.Event {
	return notify.Event{
		Type:             notify.EventGradePosted,
		StudentID:        g.StudentID,
		CourseOfferingID: courseID,
		GradeItemID:      g.GradeItemID,
		Score:            g.Score.Decimal.String(),
		OccurredAt:       at,
	}
}

// loadItem returns the item with the course offering it belongs to.
func (s *GradeEntryService) loadItem(db *gorm.DB, itemID uint) (*model.GradeItem, uint, error) {
	repo := s.GradebookRepo.WithTx(db)
	item, err := repo.FindItemByID(itemID)
	if err != nil {
		return nil, 0, notFound(err, util.ErrItemNotFound)
	}
	cat, err := repo.FindCategoryByID(item.CategoryID)
	if err != nil {
		return nil, 0, notFound(err, util.ErrCategoryNotFound)
	}
	return item, cat.CourseOfferingID, nil
}

func (s *GradeEntryService) write(ctx context.Context, caller Caller, item *model.GradeItem, entry GradeEntry) (*model.Grade, bool, error) {
	var (
		grade  *model.Grade
		posted bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		grade, posted, err = writeGrade(s.GradebookRepo.WithTx(tx), item, scoreWrite{
			StudentID:   entry.StudentID,
			Score:       entry.Score,
			Feedback:    &entry.Feedback,
			IsExcused:   &entry.IsExcused,
			SubmittedAt: entry.SubmittedAt,
			GradedBy:    caller.UserID,
		}, s.Now())
		return err
	})
	if err != nil {
		monitoring.GradeEntries.WithLabelValues("failed").Inc()
		return nil, false, err
	}
	monitoring.GradeEntries.WithLabelValues("ok").Inc()
	return grade, posted, nil
}

// SetGrade records one student's grade on an item.
func (s *GradeEntryService) SetGrade(ctx context.Context, caller Caller, itemID uint, entry GradeEntry) (*model.Grade, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	item, courseID, err := s.loadItem(s.DB.WithContext(ctx), itemID)
	if err != nil {
		return nil, err
	}
	grade, posted, err := s.write(ctx, caller, item, entry)
	if err != nil {
		return nil, err
	}
	s.Gradebook.invalidate(ctx, courseID)
	if posted {
		s.Publisher.Publish(ctx, gradePostedEvent(grade, courseID, s.Now()))
	}
	return grade, nil
}

// BulkGradeEntry writes every row in its own transaction. A failing row is
// reported in the result and does not undo the others.
func (s *GradeEntryService) BulkGradeEntry(ctx context.Context, caller Caller, itemID uint, rows []GradeEntry) (*BulkGradeResult, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	item, courseID, err := s.loadItem(s.DB.WithContext(ctx), itemID)
	if err != nil {
		return nil, err
	}

	res := &BulkGradeResult{
		BatchID:     uuid.NewString(),
		GradeItemID: itemID,
		Rows:        make([]GradeEntryResult, 0, len(rows)),
	}
	var events []notify.Event
	for _, row := range rows {
		grade, posted, err := s.write(ctx, caller, item, row)
		if err != nil {
			res.Failed++
			res.Rows = append(res.Rows, GradeEntryResult{StudentID: row.StudentID, Error: err.Error()})
			logger.Log.Debug("grade row rejected",
				zap.String("batchId", res.BatchID),
				zap.Uint("studentId", row.StudentID),
				zap.Error(err))
			continue
		}
		res.Succeeded++
		res.Rows = append(res.Rows, GradeEntryResult{StudentID: row.StudentID, OK: true, Grade: grade})
		if posted {
			events = append(events, gradePostedEvent(grade, courseID, s.Now()))
		}
	}

	if res.Succeeded > 0 {
		s.Gradebook.invalidate(ctx, courseID)
	}
	for _, evt := range events {
		s.Publisher.Publish(ctx, evt)
	}
	logger.Log.Info("bulk grade entry",
		zap.String("batchId", res.BatchID),
		zap.Uint("gradeItemId", itemID),
		zap.Uint("gradedBy", caller.UserID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed))
	return res, nil
}
