package http

import "github.com/gin-gonic/gin"

// Register registers the submit routes
func (h *Handler) Register(rg gin.IRoutes) {
	rg.POST("/memory", h.SubmitMemory)
	rg.POST("/disk", h.SubmitDisk)
}
