package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vividoc/backend/internal/domain"
	"github.com/vividoc/backend/internal/service"
	"github.com/vividoc/backend/internal/service/jobtracker"
)

type SpecHandler struct {
	service *service.SpecService
}

func NewSpecHandler(service *service.SpecService) *SpecHandler {
	return &SpecHandler{service: service}
}

type GenerateSpecRequest struct {
	Topic string `json:"topic"`
}

type UpdateSpecRequest struct {
	Spec domain.DocumentSpec `json:"spec"`
}

func (h *SpecHandler) Generate(c *gin.Context) {
	var req GenerateSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.service.Generate(c.Request.Context(), req.Topic)
	if err != nil {
		respondJobError(c, jobID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

func (h *SpecHandler) Get(c *gin.Context) {
	spec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSpecNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spec_id": c.Param("id"), "spec": spec})
}

func (h *SpecHandler) Update(c *gin.Context) {
	var req UpdateSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	spec, err := h.service.Update(c.Request.Context(), c.Param("id"), req.Spec)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSpecNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
		case errors.Is(err, domain.ErrInvalidSpec):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"spec_id": c.Param("id"), "spec": spec})
}

// List 最近更新的规格，?limit= 控制条数
func (h *SpecHandler) List(c *gin.Context) {
	specs, err := h.service.List(c.Request.Context(), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"specs": specs})
}

func (h *SpecHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrSpecNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// queryLimit 解析 limit 参数，非法值按默认处理
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return limit
}

// respondJobError 任务创建类接口的错误映射
func respondJobError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyTopic), errors.Is(err, service.ErrMissingSource):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrSpecNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "spec not found"})
	case errors.Is(err, jobtracker.ErrQueueFull), errors.Is(err, jobtracker.ErrRunnerStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "job_id": jobID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
