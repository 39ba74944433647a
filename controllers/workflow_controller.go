package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"loanservicing/middleware"
	"loanservicing/services"
	"loanservicing/utils"
)

// WorkflowController справочник таблиц переходов для интерфейса
type WorkflowController struct {
	validator *services.TransitionValidator
	registry  *services.StatusRegistry
}

// NewWorkflowController создает новый экземпляр WorkflowController
func NewWorkflowController(validator *services.TransitionValidator, registry *services.StatusRegistry) *WorkflowController {
	return &WorkflowController{validator: validator, registry: registry}
}

// Engine собирает gin обработчик для /api/workflows
func (c *WorkflowController) Engine(jwtKey []byte, limiter *utils.RateLimiter, metrics *utils.LedgerMetrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.Logger(metrics), middleware.CORSMiddleware())

	api := engine.Group("/api/workflows", middleware.Auth(jwtKey))
	if limiter != nil {
		api.Use(middleware.RateLimit(limiter))
	}
	api.GET("", c.List)
	api.GET("/:name", c.Get)
	api.GET("/:name/next", c.Next)
	return engine
}

// List возвращает имена таблиц переходов
func (c *WorkflowController) List(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"workflows": c.validator.Workflows().Names(),
	})
}

// Get возвращает таблицу переходов целиком
func (c *WorkflowController) Get(ctx *gin.Context) {
	wf, err := c.validator.Workflows().Get(ctx.Param("name"))
	if err != nil {
		ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, wf)
}

// Next возвращает переходы, доступные из статуса origin для роли пользователя
func (c *WorkflowController) Next(ctx *gin.Context) {
	_, role, err := middleware.GetUserFromContext(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	origin, err := strconv.Atoi(ctx.Query("origin"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid origin"})
		return
	}

	rules, err := c.validator.NextSteps(ctx.Param("name"), origin, role.Actor())
	if err != nil {
		ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	wf, _ := c.validator.Workflows().Get(ctx.Param("name"))
	steps := make([]gin.H, 0, len(rules))
	for _, rule := range rules {
		step := gin.H{
			"destination": rule.Destination,
			"path_type":   rule.PathType,
		}
		if wf != nil {
			if status, err := c.registry.Get(wf.Domain, rule.Destination); err == nil {
				step["description"] = status.Description
			} else if !errors.Is(err, services.ErrUnknownStatus) {
				utils.LogWarn("Статус %d: %v", rule.Destination, err)
			}
		}
		steps = append(steps, step)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"workflow": ctx.Param("name"),
		"origin":   origin,
		"actor":    role.Actor(),
		"next":     steps,
	})
}
