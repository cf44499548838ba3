// Recomputes the persisted final score and letter of enrollments.
//
// Enrollment grades are refreshed explicitly after grade changes; run this
// after a bulk import or a weight re-balance to bring every enrollment of a
// course (or of all courses) up to date.
//
// Usage: go run scripts/recompute_grades.go -course 12

package main

import (
	"context"
	"flag"
	"log"

	"gradebook_backend/internal/config"
	"gradebook_backend/internal/repository"
	"gradebook_backend/internal/service"
	"gradebook_backend/pkg/cache"
	"gradebook_backend/pkg/database"
	"gradebook_backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configDir := flag.String("config", "configs", "directory holding config.yaml")
	courseID := flag.Uint("course", 0, "course offering to recompute, 0 for all")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database, false)
	if err != nil {
		logger.Log.Fatal("Failed to connect database", zap.Error(err))
	}

	var gradeCache cache.Cache = cache.Nop{}
	if rdb, err := database.InitRedis(&cfg.Redis); err == nil {
		gradeCache = cache.NewRedisCache(rdb, "gradebook:")
		defer rdb.Close()
	}

	courseRepo := repository.NewCourseRepository(db)
	gradebook := service.NewGradebookService(db, courseRepo, repository.NewGradebookRepository(db), gradeCache, cfg.Grading.CacheTTL())

	ids, err := courseRepo.ListEnrollmentIDs(uint(*courseID))
	if err != nil {
		logger.Log.Fatal("Failed to list enrollments", zap.Error(err))
	}

	ctx := context.Background()
	failed := 0
	for _, id := range ids {
		if _, err := gradebook.UpdateEnrollmentGrades(ctx, id); err != nil {
			failed++
			logger.Log.Error("enrollment recompute failed", zap.Uint("enrollmentId", id), zap.Error(err))
		}
	}
	logger.Log.Info("enrollment recompute finished",
		zap.Int("total", len(ids)),
		zap.Int("failed", failed))
}
