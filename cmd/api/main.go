package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/FinRadar/internal/api"
	"github.com/LJTian/FinRadar/internal/config"
	"github.com/LJTian/FinRadar/internal/scheduler"
	"github.com/LJTian/FinRadar/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	// 确保各个数据源存在，并同步启用状态
	for _, ch := range scheduler.Channels(cfg) {
		if _, err := store.EnsureChannel(ch.Code, ch.Name, ch.BaseURL, ch.Enabled); err != nil {
			log.Fatalf("ensure channel %s failed: %v", ch.Code, err)
		}
	}

	pipeline := &scheduler.Pipeline{
		Orchestrator: scheduler.NewOrchestrator(scheduler.BuildSources(cfg, store.WatchlistCodes)...),
		Files:        storage.NewResultStore(cfg.OutputDir),
		Ledger:       store,
	}
	s, err := scheduler.New(cfg.CronSpec, pipeline)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}
	api.NewServer(store, s).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}
	go func() {
		log.Printf("starting api server at %s ...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server exit: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("shutting down ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	// 取消进行中的运行：外部工具子进程随之被终止
	s.Stop()
}

// basicAuthMiddleware 为状态 API 增加一个简单的 Basic Auth 访问密码。
// /health 不做认证，便于健康检查
func basicAuthMiddleware(user, pass string) gin.HandlerFunc {
	const realm = "FinRadar"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
