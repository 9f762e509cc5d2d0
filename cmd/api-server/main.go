// Package main API Server 入口
//
// 同一进程内运行 HTTP API 与用户生命周期引擎。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookwise/internal/apiserver/auth"
	"bookwise/internal/apiserver/server"
	"bookwise/internal/borrowing"
	"bookwise/internal/config"
	"bookwise/internal/lifecycle"
	"bookwise/internal/shared/notify"
	"bookwise/internal/shared/objstore"
	"bookwise/internal/shared/ratelimit"
	redisstore "bookwise/internal/shared/storage/redis"
	"bookwise/internal/shared/storage/repository"
	"bookwise/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	noLifecycle := flag.Bool("no-lifecycle", false, "不在本进程运行生命周期引擎")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	// 加载配置（自动加载 .env，根据 APP_ENV 选择 YAML）
	cfg := config.Load()

	log.Printf("Starting API Server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())
	if cfg.Auth.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	// 初始化数据库（PostgreSQL 或 SQLite）
	store, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open %s database: %v", cfg.DatabaseDriver, err)
	}
	defer store.Close()
	log.Printf("Connected to %s", cfg.DatabaseDriver)

	// 初始化 Redis（限流计数、工作流唤醒）
	redisStore, err := redisstore.NewStoreFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisStore.Close()
	limiter := ratelimit.New(redisStore.Client(), cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Prefix)

	// 初始化对象存储（封面、预告片、学生证）
	media, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to create MinIO client: %v", err)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := media.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: MinIO bucket %q not ready: %v", cfg.MinIO.Bucket, err)
		}
		cancel()
	}

	dispatcher, err := notify.FromConfig(cfg.Mail, logging.Default("notify"))
	if err != nil {
		log.Fatalf("Failed to create mail dispatcher: %v", err)
	}

	coordinator := borrowing.NewCoordinator(store, borrowing.PolicyFromConfig(cfg.Borrowing),
		borrowing.WithLogger(logging.Default("borrowing")))
	engine := lifecycle.NewEngine(store, dispatcher, cfg.Lifecycle,
		lifecycle.WithWaker(redisStore), lifecycle.WithLogger(logging.Default("lifecycle")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := auth.EnsureAdminUser(ctx, store, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		log.Printf("WARNING: Failed to ensure admin user: %v", err)
	}
	// 补登记注册时未能写入工作流的读者
	if n, err := auth.EnrollExistingUsers(ctx, store, engine); err != nil {
		log.Printf("WARNING: Lifecycle enrolment incomplete: %v", err)
	} else if n > 0 {
		log.Printf("Enrolled %d existing users into lifecycle workflow", n)
	}

	h := server.NewHandler(server.Deps{
		Store:     store,
		Auth:      auth.ConfigFrom(cfg.Auth),
		Lifecycle: engine,
		Loans:     coordinator,
		Media:     media,
		Limiter:   limiter,
		Logger:    logging.Default("http"),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // 预告片上传
		IdleTimeout:  60 * time.Second,
		ErrorLog:     newServerErrorLog(logging.Default("http")),
	}

	g, gctx := errgroup.WithContext(ctx)
	if !*noLifecycle {
		g.Go(func() error { return engine.Run(gctx) })
	}
	g.Go(func() error {
		log.Printf("API Server listening on :%s", cfg.APIPort)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	// 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Wait()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
		os.Exit(1)
	}
	fmt.Println("Server stopped")
}
