package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"scanstation/internal/auth"
	"scanstation/internal/camera"
	"scanstation/internal/config"
	"scanstation/internal/events"
	"scanstation/internal/httpmiddleware"
	"scanstation/internal/notify"
	"scanstation/internal/scanner"
	"scanstation/internal/submit"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("scanstation failed: %v", err)
	}
}

func run(cfg config.App) error {
	cam := camera.NewSession(camera.Config{
		BackDevice:  cfg.BackDevice,
		FrontDevice: cfg.FrontDevice,
		Facing:      camera.Facing(cfg.Facing),
		Width:       uint32(cfg.FrameWidth),
		Height:      uint32(cfg.FrameHeight),
	})

	var redisClient *redis.Client
	var feed events.Feed
	if cfg.FeedBackend == "redis" {
		redisClient = events.NewRedis(cfg.RedisAddr)
		feed = events.NewRedisFeed(redisClient, "scanstation:events", cfg.FeedSize)
	} else {
		feed = events.NewInMemory(cfg.FeedSize)
	}

	client := submit.NewClient(cfg.AttendanceAPIURL, cfg.AttendanceToken, cfg.SubmitTimeout)
	notifier := notify.NewLog()

	sc := scanner.New(cam, client, notifier, feed, scanner.Config{
		SampleInterval: cfg.SampleInterval,
		RetryCooldown:  cfg.RetryCooldown,
		Continuous:     cfg.Continuous,
		DeviceInfo:     cfg.StationName,
		ScanLocation:   cfg.ScanLocation,
	})

	if cfg.AutoStart {
		if err := sc.Start(); err != nil {
			log.Printf("auto-start failed: %v", err)
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		redisHealthy := true
		if redisClient != nil {
			redisHealthy = events.Healthy(c.Request.Context(), redisClient)
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, gin.H{
			"status":  "ok",
			"scanner": sc.State(),
			"camera":  cam.Permission(),
			"redis":   redisHealthy,
		})
	})

	r.POST("/v1/station/register", func(c *gin.Context) {
		var req struct {
			Station string `json:"station" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := auth.Issue(req.Station, "operator", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token": token.Value,
			"expires_at":   token.ExpiresAt.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StationAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/scanner/start", func(c *gin.Context) {
		if err := sc.Start(); err != nil {
			if errors.Is(err, scanner.ErrAlreadyRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"state": sc.State()})
	})

	authGroup.POST("/scanner/stop", func(c *gin.Context) {
		sc.Stop()
		c.JSON(http.StatusOK, gin.H{"state": sc.State()})
	})

	authGroup.POST("/scanner/switch-facing", func(c *gin.Context) {
		if err := sc.SwitchFacing(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "facing": cam.Facing()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"facing": cam.Facing()})
	})

	authGroup.GET("/scanner/state", func(c *gin.Context) {
		resp := gin.H{
			"state":      sc.State(),
			"running":    sc.Running(),
			"facing":     cam.Facing(),
			"permission": cam.Permission(),
			"device":     cam.DevicePath(),
		}
		if outcome, ok := sc.LastOutcome(); ok {
			resp["last_outcome"] = outcome
		}
		if err := sc.LastError(); err != nil {
			resp["last_error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})

	authGroup.GET("/scanner/outcomes", func(c *gin.Context) {
		limit := 20
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		recent, err := feed.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": recent})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("control API listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	// Release the camera before the process exits; Stop waits for any
	// in-flight submission cycle to wind down.
	sc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("scanstation exited")
	return nil
}

// CORS middleware for operator console requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
