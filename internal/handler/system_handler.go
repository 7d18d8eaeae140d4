package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	loadInterval    = 5 * time.Second
	loadReadTimeout = 2 * time.Second
)

// SystemHandler streams the exam room load of this instance via SSE: live
// sessions per state, persistence queue backlog, connection pools and the
// Go runtime. Host-level CPU and memory are exported on /metrics.
type SystemHandler struct {
	rdb       *redis.Client
	pool      *pgxpool.Pool
	sessions  *service.ExamSessionService
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(rdb *redis.Client, pool *pgxpool.Pool, sessions *service.ExamSessionService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		pool:      pool,
		sessions:  sessions,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type queueDepth struct {
	Answers    int64 `json:"answers"`
	Violations int64 `json:"violations"`
	Scores     int64 `json:"scores"`
	Reviews    int64 `json:"reviews"`
}

type poolLoad struct {
	DBAcquired    int32  `json:"db_acquired"`
	DBIdle        int32  `json:"db_idle"`
	DBMax         int32  `json:"db_max"`
	RedisTotal    uint32 `json:"redis_total"`
	RedisIdle     uint32 `json:"redis_idle"`
	RedisTimeouts uint32 `json:"redis_timeouts"`
}

type runtimeLoad struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

type systemLoad struct {
	Timestamp     int64                      `json:"timestamp"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	LiveSessions  int                        `json:"live_sessions"`
	ByState       map[model.SessionState]int `json:"by_state"`
	Queues        *queueDepth                `json:"queues,omitempty"`
	Pools         poolLoad                   `json:"pools"`
	Runtime       runtimeLoad                `json:"runtime"`
}

// SystemMetricsSSE godoc
// GET /api/v1/proctor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	if middleware.GetClaims(c) == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Proctor connected to system load SSE")

	ticker := time.NewTicker(loadInterval)
	defer ticker.Stop()

	h.writeLoad(c)
	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Proctor disconnected from system load SSE")
			return
		case <-ticker.C:
			h.writeLoad(c)
		}
	}
}

func (h *SystemHandler) writeLoad(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

func (h *SystemHandler) collect(ctx context.Context) systemLoad {
	byState := h.sessions.LiveByState()
	live := 0
	for _, n := range byState {
		live += n
	}

	load := systemLoad{
		Timestamp:     time.Now().Unix(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		LiveSessions:  live,
		ByState:       byState,
		Queues:        h.queueDepth(ctx),
	}

	if h.pool != nil {
		st := h.pool.Stat()
		load.Pools.DBAcquired = st.AcquiredConns()
		load.Pools.DBIdle = st.IdleConns()
		load.Pools.DBMax = st.MaxConns()
	}
	if rs := h.rdb.PoolStats(); rs != nil {
		load.Pools.RedisTotal = rs.TotalConns
		load.Pools.RedisIdle = rs.IdleConns
		load.Pools.RedisTimeouts = rs.Timeouts
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	load.Runtime = runtimeLoad{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
	}
	return load
}

// queueDepth returns nil when Redis cannot answer in time.
func (h *SystemHandler) queueDepth(ctx context.Context) *queueDepth {
	ctx, cancel := context.WithTimeout(ctx, loadReadTimeout)
	defer cancel()

	pipe := h.rdb.Pipeline()
	answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	violations := pipe.LLen(ctx, config.WorkerKey.PersistViolationsQueue)
	scores := pipe.LLen(ctx, config.WorkerKey.PersistScoresQueue)
	reviews := pipe.LLen(ctx, config.WorkerKey.PersistReviewsQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Msg("Failed to read worker queue depth")
		return nil
	}
	return &queueDepth{
		Answers:    answers.Val(),
		Violations: violations.Val(),
		Scores:     scores.Val(),
		Reviews:    reviews.Val(),
	}
}
