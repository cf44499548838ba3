package controller

import (
	"gradebook_backend/internal/service"
	"gradebook_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// callerFrom builds the service caller from the verified token. It writes a
// 401 and returns false when there is none.
func callerFrom(ctx *gin.Context) (service.Caller, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return service.Caller{}, false
	}
	return service.Caller{UserID: user.UserID, Role: service.CallerRoleFor(user.Role)}, true
}
