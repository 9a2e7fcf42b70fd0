package dashboard

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/metrics"
	"github.com/zulandar/motorpool/internal/workflow"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, m *metrics.Metrics, loc *time.Location) {
	router.GET("/healthz", handleHealth(db))
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := router.Group("/api")
	api.GET("/requests", handleRequestList(db, loc))
	api.GET("/requests/:code", handleRequestDetail(db, loc))
	vehicles, _ := fleet.NewStore(db)
	api.GET("/vehicles", handleVehicleList(vehicles))
	api.GET("/stats", handleStats(db))
	api.GET("/events", handleSSE(db, loc))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleRequestList supports ?status=a,b, ?requester=<chat user id> and
// ?limit=N.
func handleRequestList(db *gorm.DB, loc *time.Location) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := workflow.ListOpts{
			RequesterID: c.Query("requester"),
			Limit:       defaultListLimit,
		}
		if s := c.Query("status"); s != "" {
			opts.Statuses = strings.Split(s, ",")
		}
		if l := c.Query("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			opts.Limit = min(n, maxListLimit)
		}

		reqs, err := workflow.ListRequests(c.Request.Context(), db, opts)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]RequestRow, len(reqs))
		for i, r := range reqs {
			rows[i] = toRequestRow(r, loc)
		}
		c.JSON(http.StatusOK, gin.H{"requests": rows, "count": len(rows)})
	}
}

func handleRequestDetail(db *gorm.DB, loc *time.Location) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.ToUpper(c.Param("code"))
		req, err := workflow.GetRequest(c.Request.Context(), db, code)
		if err != nil {
			if workflow.Classify(err) == workflow.KindNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": workflow.Message(err)})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, toRequestRow(req, loc))
	}
}

func handleVehicleList(store *fleet.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		vehicles, err := store.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		rows := make([]VehicleRow, len(vehicles))
		for i, v := range vehicles {
			rows[i] = toVehicleRow(v)
		}
		c.JSON(http.StatusOK, gin.H{"vehicles": rows, "count": len(rows)})
	}
}

func handleStats(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := LoadStats(c.Request.Context(), db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}
