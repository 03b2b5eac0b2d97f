package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"miraikakaku/apperrors"
)

// respondError maps an application error onto the JSON error envelope
func respondError(c *gin.Context, err error) {
	status := apperrors.StatusCode(err)

	message := "Internal server error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	c.JSON(status, gin.H{"error": message})
}
