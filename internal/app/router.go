package app

import (
	"gradebook_backend/docs"
	"gradebook_backend/internal/config"
	"gradebook_backend/internal/middleware"
	"gradebook_backend/internal/model"
	"gradebook_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. public
	router.GET("/api/health", c.health.HealthCheck)

	// 2. authenticated
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerInstructorRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	group.GET("/courses/:courseId/gradebook", c.gradebook.MyGradebook)

	group.POST("/quizzes/:id/attempts", c.quiz.StartAttempt)
	group.GET("/quizzes/:id/best-attempt", c.quiz.BestAttempt)

	group.GET("/attempts/:id", c.quiz.GetAttempt)
	group.PUT("/attempts/:id/answers/:questionId", c.quiz.SaveAnswer)
	group.POST("/attempts/:id/submit", c.quiz.SubmitAttempt)

	group.GET("/transcript", c.transcript.MyTranscript)
}

func (a *App) registerInstructorRoutes(group *gin.RouterGroup, c *controllers) {
	instructor := group.Group("/instructor")
	instructor.Use(middleware.RoleMiddleware(model.Teacher))
	{
		instructor.POST("/courses/:courseId/categories/provision", c.gradebook.ProvisionCategories)
		instructor.POST("/courses/:courseId/categories", c.gradebook.CreateCategory)
		instructor.PUT("/categories/:id", c.gradebook.UpdateCategory)
		instructor.POST("/categories/:id/deactivate", c.gradebook.DeactivateCategory)
		instructor.POST("/categories/:id/items", c.gradebook.CreateItem)
		instructor.PUT("/items/:id", c.gradebook.UpdateItem)

		instructor.PUT("/items/:id/grades/:studentId", c.grade.SetGrade)
		instructor.POST("/items/:id/grades/bulk", c.grade.BulkGrade)

		instructor.GET("/courses/:courseId/students/:studentId/gradebook", c.gradebook.StudentGradebook)
		instructor.POST("/enrollments/:id/refresh-grade", c.gradebook.RefreshEnrollmentGrade)

		instructor.POST("/courses/:courseId/quizzes", c.quiz.CreateQuiz)
		instructor.POST("/quizzes/:id/questions", c.quiz.AddQuestion)
		instructor.POST("/quizzes/:id/activate", c.quiz.Activate)
		instructor.PUT("/answers/:id/grade", c.quiz.GradeAnswer)

		instructor.GET("/students/:studentId/transcript", c.transcript.StudentTranscript)
		instructor.POST("/students/:studentId/transcript/archive", c.transcript.Archive)
	}
}
