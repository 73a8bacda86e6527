package utils

import "github.com/gin-gonic/gin"

// Error writes {"error": message} with the given status code.
func Error(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, gin.H{"error": message})
}

// Message writes {"message": message} merged with any extra fields.
func Message(ctx *gin.Context, status int, message string, extra gin.H) {
	body := gin.H{"message": message}
	for k, v := range extra {
		body[k] = v
	}
	ctx.JSON(status, body)
}

// Success writes a 200 with the given payload as-is.
func Success(ctx *gin.Context, data gin.H) {
	ctx.JSON(200, data)
}
