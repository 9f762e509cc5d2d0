// Package main 图书目录初始化工具
//
// 读取 JSON 图书列表，下载封面与预告片并上传到对象存储，
// 再以 available_copies = total_copies 写入数据库。已存在同名图书时跳过。
//
// 用法：
//
//	seed -file dummybooks.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bookwise/internal/config"
	"bookwise/internal/shared/objstore"
	"bookwise/internal/shared/storage/repository"
	"bookwise/pkg/logging"
)

func main() {
	configDir := flag.String("config", "", "配置文件目录")
	file := flag.String("file", "dummybooks.json", "图书 JSON 文件")
	flag.Parse()
	if *configDir != "" {
		config.SetConfigDir(*configDir)
	}

	cfg := config.Load()
	log.Printf("Seeding catalog... [env=%s]", cfg.Env)

	books, err := readBooks(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}

	store, err := repository.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open %s database: %v", cfg.DatabaseDriver, err)
	}
	defer store.Close()

	media, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to create MinIO client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := media.EnsureBucket(ctx); err != nil {
		log.Fatalf("MinIO bucket not ready: %v", err)
	}

	s := newSeeder(store, media, logging.Default("seed"))
	n, err := s.Seed(ctx, books)
	if err != nil {
		log.Fatalf("Seeding stopped after %d books: %v", n, err)
	}
	fmt.Printf("Seeded %d books\n", n)
}

func readBooks(path string) ([]seedBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var books []seedBook
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return books, nil
}
