package refresh

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

type startResponse struct {
	ExecutionId int    `json:"executionId"`
	Status      string `json:"status"`
	StartedAt   string `json:"startedAt"`
	Message     string `json:"message"`
}

type executionResponse struct {
	ID                    int                             `json:"id"`
	Status                string                          `json:"status"`
	StartedBy             int                             `json:"startedBy"`
	StartedByName         string                          `json:"startedByName,omitempty"`
	StartedByEmail        string                          `json:"startedByEmail,omitempty"`
	StartedAt             string                          `json:"startedAt"`
	CompletedAt           *string                         `json:"completedAt"`
	DurationSeconds       *int                            `json:"durationSeconds"`
	TotalRecordsProcessed int                             `json:"totalRecordsProcessed"`
	ProgressPercentage    int                             `json:"progressPercentage"`
	CurrentStep           string                          `json:"currentStep"`
	ErrorMessage          *string                         `json:"errorMessage"`
	Details               *models.RefreshExecutionDetails `json:"details,omitempty"`
}

type statusResponse struct {
	IsRunning        bool               `json:"isRunning"`
	CurrentExecution *executionResponse `json:"currentExecution"`
}

type historyResponse struct {
	Items []executionResponse `json:"items"`
}

// StartHandler kicks off a refresh for the authenticated admin. A refresh
// already in flight yields 409 with the starter's identity.
func StartHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userName, _ := utils.GetUserNameFromContext(c.Request.Context())

		execution, err := orchestrator.Start(c.Request.Context(), userId, userName)
		if err != nil {
			var conflict *AlreadyRunningError
			if errors.As(err, &conflict) {
				c.JSON(http.StatusConflict, gin.H{
					"error":       conflict.Error(),
					"executionId": conflict.ExecutionId,
					"startedBy":   conflict.StartedBy,
					"startedAt":   conflict.StartedAt.UTC().Format(time.RFC3339),
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		db := config.GetDB()
		if db != nil {
			_ = models.CreateSupervisionLog(db.WithContext(c.Request.Context()),
				"DataRefreshExecution", execution.ID, "Started", userId, userName,
				"Manual data refresh started", nil)
		}

		c.JSON(http.StatusOK, startResponse{
			ExecutionId: execution.ID,
			Status:      execution.Status,
			StartedAt:   execution.StartedAt.UTC().Format(time.RFC3339),
			Message:     "Data refresh started",
		})
	}
}

// StatusHandler reports whether a refresh is running and the latest
// execution snapshot, for polling clients without a socket.
func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB().WithContext(c.Request.Context())

		var execution models.DataRefreshExecution
		err := db.Order("id desc").Take(&execution).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, statusResponse{IsRunning: false})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := mapExecutionToResponse(db, execution)
		c.JSON(http.StatusOK, statusResponse{
			IsRunning:        execution.Status == models.RefreshStatusRunning,
			CurrentExecution: &resp,
		})
	}
}

// HistoryHandler lists past executions, newest first.
func HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())

		var executions []models.DataRefreshExecution
		if err := db.Order("id desc").Limit(limit).Find(&executions).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]executionResponse, 0, len(executions))
		for _, execution := range executions {
			items = append(items, mapExecutionToResponse(db, execution))
		}
		c.JSON(http.StatusOK, historyResponse{Items: items})
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The JWT middleware already gates the route; origin checks add nothing
	// behind the Cloud Run load balancer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// WSHandler upgrades the connection and streams refresh lifecycle events.
// A "ping" text frame from the client is answered with a pong envelope.
func WSHandler(broadcaster *Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			config.LogError(config.GetLogger(), "refresh", "WSHandler", "upgrade", nil, err)
			return
		}

		events, cancel := broadcaster.Subscribe()
		pongs := make(chan struct{}, 4)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for {
				messageType, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if messageType == websocket.TextMessage && strings.TrimSpace(string(payload)) == "ping" {
					select {
					case pongs <- struct{}{}:
					default:
					}
				}
			}
		}()

		defer func() {
			cancel()
			conn.Close()
		}()

		for {
			select {
			case event, open := <-events:
				if !open {
					// Dropped by the broadcaster for falling behind.
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-pongs:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(gin.H{"type": "pong"}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}

func mapExecutionToResponse(db *gorm.DB, execution models.DataRefreshExecution) executionResponse {
	resp := executionResponse{
		ID:                    execution.ID,
		Status:                execution.Status,
		StartedBy:             execution.StartedBy,
		StartedAt:             execution.StartedAt.UTC().Format(time.RFC3339),
		TotalRecordsProcessed: execution.TotalRecordsProcessed,
		ProgressPercentage:    execution.ProgressPercentage,
		CurrentStep:           execution.CurrentStep,
		ErrorMessage:          execution.ErrorMessage,
	}
	if execution.CompletedAt != nil {
		s := execution.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	resp.DurationSeconds = execution.DurationSeconds
	if len(execution.DetailsJSON) > 0 {
		details := models.DecodeRefreshDetails(execution.DetailsJSON)
		resp.Details = &details
	}
	if starter, err := lookupUser(db, execution.StartedBy); err == nil {
		resp.StartedByName = starter.DisplayName
		resp.StartedByEmail = starter.Email
	}
	return resp
}

const userCacheTTL = 10 * time.Minute

// lookupUser resolves a user through the Redis cache, falling back to the
// database. Cache misses and Redis outages both degrade to a DB read.
func lookupUser(db *gorm.DB, id int) (*models.User, error) {
	key := fmt.Sprintf("User:%d", id)
	var cached models.User
	if hit, err := config.GetRedisObject(key, &cached); err == nil && hit {
		return &cached, nil
	}
	user, err := models.GetUserById(db, id)
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(key, user, userCacheTTL)
	return user, nil
}
