package http

import (
	"net/http"
	"time"

	"adaptive-quiz-service/internal/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts every endpoint. gatherer backs /metrics; nil skips it.
func NewRouter(h *Handler, ws *WSHandler, gatherer prometheus.Gatherer, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", headerUserID, headerUserName},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/ws/leaderboard", gin.WrapF(ws.ServeWS))

	v1 := router.Group("/v1")
	{
		quiz := v1.Group("/quiz")
		quiz.GET("/next", h.NextQuestion)
		quiz.POST("/answer", h.SubmitAnswer)
		quiz.GET("/metrics", h.Metrics)

		leaderboard := v1.Group("/leaderboard")
		leaderboard.GET("", h.Leaderboard)
		leaderboard.GET("/score", h.TopScores)
		leaderboard.GET("/streak", h.TopStreaks)
	}
	return router
}
