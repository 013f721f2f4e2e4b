package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"todochat/internal/apperr"
	"todochat/internal/auth"
	"todochat/internal/models"
	"todochat/internal/service/chat"
	"todochat/internal/service/tasks"
)

// Agent produces the assistant's reply for one conversation turn. The
// returned text is always persistable; the flag reports whether the
// model answered or a fallback was substituted.
type Agent interface {
	Respond(ctx context.Context, ownerID, query string, history []models.Message) (string, bool)
}

// Handler wires HTTP routes to the task and conversation services.
type Handler struct {
	tasks       *tasks.Service
	chat        *chat.Service
	auth        *auth.Service
	agent       Agent
	corsOrigins []string
}

// NewHandler constructs a Handler instance.
func NewHandler(taskSvc *tasks.Service, chatSvc *chat.Service, authSvc *auth.Service, agent Agent, corsOrigins []string) *Handler {
	return &Handler{
		tasks:       taskSvc,
		chat:        chatSvc,
		auth:        authSvc,
		agent:       agent,
		corsOrigins: corsOrigins,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.corsMiddleware())
	router.GET("/", h.root)
	router.GET("/health", h.health)

	userRoutes := router.Group("/api/:user_id")
	userRoutes.Use(h.auth.Middleware(), h.auth.RequirePathUser())
	userRoutes.POST("/tasks", h.createTask)
	userRoutes.GET("/tasks", h.listTasks)
	userRoutes.GET("/tasks/:task_id", h.getTask)
	userRoutes.PUT("/tasks/:task_id", h.updateTask)
	userRoutes.PATCH("/tasks/:task_id/complete", h.toggleTask)
	userRoutes.DELETE("/tasks/:task_id", h.deleteTask)
	userRoutes.POST("/conversations", h.createConversation)
	userRoutes.GET("/conversations", h.listConversations)
	userRoutes.GET("/conversations/:conversation_id", h.getConversation)
	userRoutes.GET("/conversations/:conversation_id/messages", h.listMessages)
	userRoutes.POST("/conversations/:conversation_id/messages", h.sendMessage)
}

func (h *Handler) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := origin != "" && h.originAllowed(origin)
		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		// Preflights from unknown origins fall through to the router.
		if c.Request.Method == http.MethodOptions && allowed {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "todochat", "status": "running"})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeServiceError maps a service error to its HTTP response. Missing
// and unowned entities both answer 404 so the API never confirms that
// another user's entity exists.
func writeServiceError(c *gin.Context, err error) {
	if v, ok := apperr.AsValidation(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": v.Error(), "field": v.Field})
		return
	}
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrOwnership) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return 0, false
	}
	return id, true
}

func pathOwner(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// Task interface

type createTaskRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    models.Priority `json:"priority"`
	Starred     bool            `json:"starred"`
}

func (h *Handler) createTask(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := h.tasks.Create(c.Request.Context(), ownerID, req.Title, req.Description, req.Priority, req.Starred)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handler) listTasks(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	var completed *bool
	if raw, present := c.GetQuery("completed"); present {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "completed must be true or false"})
			return
		}
		completed = &val
	}
	list, err := h.tasks.List(c.Request.Context(), ownerID, completed)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = make([]models.Task, 0)
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (h *Handler) getTask(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "task_id")
	if !ok {
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), taskID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) updateTask(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "task_id")
	if !ok {
		return
	}
	var req tasks.UpdateParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), taskID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	updated, err := h.tasks.Update(c.Request.Context(), task, ownerID, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) toggleTask(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "task_id")
	if !ok {
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), taskID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	updated, err := h.tasks.ToggleComplete(c.Request.Context(), task, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) deleteTask(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	taskID, ok := pathID(c, "task_id")
	if !ok {
		return
	}
	task, err := h.tasks.GetByID(c.Request.Context(), taskID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if err := h.tasks.Delete(c.Request.Context(), task, ownerID); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Conversation interface

func (h *Handler) createConversation(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	conv, err := h.chat.CreateConversation(c.Request.Context(), ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	list, err := h.chat.ListConversations(c.Request.Context(), ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = make([]models.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) getConversation(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	conv, err := h.chat.GetConversation(c.Request.Context(), conversationID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) listMessages(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	list, err := h.chat.ListMessages(c.Request.Context(), conversationID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if list == nil {
		list = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// sendMessage runs one assistant turn. The user message is committed
// before the model is consulted, and the assistant row is written even
// when the model fails, so the transcript never has a gap.
func (h *Handler) sendMessage(c *gin.Context) {
	ownerID, ok := pathOwner(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "conversation_id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	history, err := h.chat.ListMessages(c.Request.Context(), conversationID, ownerID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	userMsg, err := h.chat.AppendMessage(c.Request.Context(), conversationID, ownerID, models.RoleUser, req.Content)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	reply, answered := h.agent.Respond(c.Request.Context(), ownerID, userMsg.Content, history)
	assistantMsg, err := h.chat.AppendMessage(c.Request.Context(), conversationID, ownerID, models.RoleAssistant, reply)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  userMsg,
		"reply":    assistantMsg,
		"answered": answered,
	})
}
