package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gradebook_backend/internal/model"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/util"
	"gradebook_backend/pkg/logger"
	"gradebook_backend/pkg/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gradePoints = map[string]decimal.Decimal{
	"AA": decimal.RequireFromString("4.0"),
	"BA": decimal.RequireFromString("3.5"),
	"BB": decimal.RequireFromString("3.0"),
	"CB": decimal.RequireFromString("2.5"),
	"CC": decimal.RequireFromString("2.0"),
	"DC": decimal.RequireFromString("1.5"),
	"DD": decimal.RequireFromString("1.0"),
	"FF": decimal.Zero,
}

// GradePointsFor returns the grade points of a letter and whether the letter is known.
func GradePointsFor(letter string) (decimal.Decimal, bool) {
	p, ok := gradePoints[letter]
	return p, ok
}

type TranscriptEntry struct {
	EnrollmentID     uint                `json:"enrollmentId"`
	CourseOfferingID uint                `json:"courseOfferingId"`
	CourseCode       string              `json:"courseCode"`
	CourseTitle      string              `json:"courseTitle"`
	Term             string              `json:"term"`
	Credits          int                 `json:"credits"`
	FinalScore       decimal.NullDecimal `json:"finalScore"`
	LetterGrade      string              `json:"letterGrade"`
	GradePoints      decimal.Decimal     `json:"gradePoints"`
	Counted          bool                `json:"counted"` // false for FF
}

type TermSummary struct {
	Term    string          `json:"term"`
	GPA     decimal.Decimal `json:"gpa"`
	Credits int             `json:"credits"`
}

type Transcript struct {
	StudentID    uint              `json:"studentId"`
	Entries      []TranscriptEntry `json:"entries"`
	Terms        []TermSummary     `json:"terms"`
	GPA          decimal.Decimal   `json:"gpa"`
	TotalCredits int               `json:"totalCredits"`
	GeneratedAt  time.Time         `json:"generatedAt"`
}

type gpaAccumulator struct {
	points  decimal.Decimal
	credits int
}

func (a *gpaAccumulator) add(e TranscriptEntry) {
	if !e.Counted {
		return
	}
	a.points = a.points.Add(e.GradePoints.Mul(decimal.NewFromInt(int64(e.Credits))))
	a.credits += e.Credits
}

// gpa is 0 when nothing countable was added.
func (a *gpaAccumulator) gpa() decimal.Decimal {
	if a.credits == 0 {
		return decimal.Zero
	}
	return a.points.Div(decimal.NewFromInt(int64(a.credits))).Round(2)
}

// BuildTranscript folds the graded enrollments of a student into a transcript.
// Enrollments without a letter grade are skipped; FF courses are listed but
// earn no credits and no points.
func BuildTranscript(studentID uint, enrollments []model.Enrollment) Transcript {
	t := Transcript{StudentID: studentID, Entries: []TranscriptEntry{}, Terms: []TermSummary{}}
	for _, e := range enrollments {
		if e.LetterGrade == nil {
			continue
		}
		points, ok := GradePointsFor(*e.LetterGrade)
		if !ok {
			continue
		}
		entry := TranscriptEntry{
			EnrollmentID:     e.ID,
			CourseOfferingID: e.CourseOfferingID,
			FinalScore:       e.FinalScore,
			LetterGrade:      *e.LetterGrade,
			GradePoints:      points,
			Counted:          *e.LetterGrade != "FF",
		}
		if e.CourseOffering != nil {
			entry.CourseCode = e.CourseOffering.Code
			entry.CourseTitle = e.CourseOffering.Title
			entry.Term = e.CourseOffering.Term
			entry.Credits = e.CourseOffering.Credits
		}
		t.Entries = append(t.Entries, entry)
	}
	sort.SliceStable(t.Entries, func(i, j int) bool {
		if t.Entries[i].Term != t.Entries[j].Term {
			return t.Entries[i].Term < t.Entries[j].Term
		}
		return t.Entries[i].CourseCode < t.Entries[j].CourseCode
	})

	var total gpaAccumulator
	byTerm := make(map[string]*gpaAccumulator)
	var terms []string
	for _, e := range t.Entries {
		total.add(e)
		acc, ok := byTerm[e.Term]
		if !ok {
			acc = &gpaAccumulator{}
			byTerm[e.Term] = acc
			terms = append(terms, e.Term)
		}
		acc.add(e)
	}
	for _, term := range terms {
		acc := byTerm[term]
		t.Terms = append(t.Terms, TermSummary{Term: term, GPA: acc.gpa(), Credits: acc.credits})
	}
	t.GPA = total.gpa()
	t.TotalCredits = total.credits
	return t
}

type ArchiveResult struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type TranscriptService struct {
	DB         *gorm.DB
	CourseRepo *repository.CourseRepository
	Storage    storage.Provider // nil disables archiving
	Now        func() time.Time
}

func NewTranscriptService(db *gorm.DB, courseRepo *repository.CourseRepository, provider storage.Provider) *TranscriptService {
	return &TranscriptService{
		DB:         db,
		CourseRepo: courseRepo,
		Storage:    provider,
		Now:        time.Now,
	}
}

// Transcript reads the persisted course results of the student. It does not
// recompute grades; enrollments are refreshed through UpdateEnrollmentGrades.
func (s *TranscriptService) Transcript(ctx context.Context, studentID uint) (*Transcript, error) {
	enrollments, err := s.CourseRepo.WithTx(s.DB.WithContext(ctx)).ListEnrollmentsByStudent(studentID)
	if err != nil {
		return nil, err
	}
	t := BuildTranscript(studentID, enrollments)
	t.GeneratedAt = s.Now()
	return &t, nil
}

// Archive stores a JSON snapshot of the transcript in object storage.
func (s *TranscriptService) Archive(ctx context.Context, caller Caller, studentID uint) (*ArchiveResult, error) {
	if !caller.CanGrade() {
		return nil, util.ErrInstructorOnly
	}
	if s.Storage == nil {
		return nil, util.ErrArchiveDisabled
	}
	t, err := s.Transcript(ctx, studentID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("transcripts/%d/%s.json", studentID, uuid.NewString())
	url, err := s.Storage.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), util.MimeJSON)
	if err != nil {
		logger.Log.Error("transcript archive failed", zap.Uint("studentId", studentID), zap.Error(err))
		return nil, err
	}
	logger.Log.Info("transcript archived", zap.Uint("studentId", studentID), zap.String("key", key))
	return &ArchiveResult{Key: key, URL: url}, nil
}
