package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logstream/config"
	httphandler "logstream/ingestion/service/http"
	wshandler "logstream/ingestion/service/ws"

	core "logstream/ingestion/service/core"
	"logstream/internal/batcher"
	"logstream/internal/broadcast"
	"logstream/internal/index"
	"logstream/internal/mcp"
	"logstream/internal/messaging/consumer"
	worker "logstream/processing"
)

func main() {
	configPath := flag.String("config", "", "path to collector YAML config (optional)")
	flag.Parse()

	// 1. Load configuration first so we know whether stdout belongs to MCP
	cfg, err := config.LoadCollectorConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load collector configuration: %v", err)
	}

	logOut := os.Stdout
	if cfg.Mcp.Enabled {
		// stdout carries JSON-RPC responses when the MCP adapter is on
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[COLLECTOR] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting log collector...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize the index adapter
	idx, err := index.NewClient(cfg.Index.Addresses, cfg.Index.InsecureSkipTLSVerify)
	if err != nil {
		logger.Fatalf("Failed to initialize index client: %v", err)
	}
	if err := idx.EnsureIndex(ctx); err != nil {
		// Ingestion and fan-out still work while the index is down; flushes
		// will fail until it comes back.
		logger.Printf("Warning: failed to ensure index mapping: %v", err)
	}

	// 3. Core pipeline: hub, batcher, gateway
	hub := broadcast.NewHub(cfg.Hub.ChannelBuffer, logger)
	writer := batcher.NewWriter(idx, cfg.Batcher.BatchSize, cfg.Batcher.FlushInterval, cfg.Batcher.IntakeBuffer, logger)
	go writer.Run()

	svc := core.NewService(hub, writer, logger)

	var wg sync.WaitGroup

	// 4. [Conditional startup] Kafka ingestion source. The worker has its
	// own wait group so shutdown can stop it before the gateway closes.
	var kafkaConsumer consumer.Consumer
	var workerWg sync.WaitGroup
	if cfg.KafkaSource.Enabled {
		kafkaConsumer, err = consumer.NewKafkaConsumer(cfg.KafkaSource, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize Kafka consumer: %v", err)
		}
		w := worker.New(cfg.Worker, logger, svc, kafkaConsumer)
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			w.Run(ctx)
		}()
	} else {
		logger.Println("kafka_source not enabled, skipping Kafka ingestion.")
	}

	// 5. [Conditional startup] MCP stdio adapter
	if cfg.Mcp.Enabled {
		mcpServer := mcp.NewServer(idx, logger, os.Stdin, os.Stdout)
		// Not tracked by the wait group: a blocked stdin read cannot be
		// interrupted, and the process exits right after shutdown anyway.
		go func() {
			if err := mcpServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("MCP server error: %v", err)
			}
		}()
		logger.Println("MCP server started on stdio")
	}

	// 6. HTTP server: ingestion, query surface, WebSocket, health, metrics
	mux := http.NewServeMux()
	httphandler.NewLogHandler(svc, idx, logger).Register(mux)
	mux.HandleFunc("GET /ws", wshandler.NewHandler(svc, logger).Serve)
	if cfg.Monitoring.EnableMetrics {
		mux.Handle("GET "+cfg.Monitoring.MetricsPath, promhttp.Handler())
	}

	readTimeout := cfg.HttpServer.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}
	writeTimeout := cfg.HttpServer.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 10 * time.Second
	}
	idleTimeout := cfg.HttpServer.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	maxHeaderBytes := cfg.HttpServer.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1 MB
	}

	// Timeouts do not affect WebSocket sessions: the upgrader hijacks the
	// connection out of the server's control.
	httpServer := &http.Server{
		Addr:           cfg.HttpListenAddr,
		Handler:        mux,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Printf("HTTP server listening on %s", cfg.HttpListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server startup failed: %v", err)
		}
		logger.Println("HTTP server stopped listening.")
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Printf("Received shutdown signal: %s, starting graceful shutdown...", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server shutdown failed: %v", err)
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Close(); err != nil {
			logger.Printf("Kafka consumer shutdown failed: %v", err)
		}
	}
	// The worker must be fully stopped before the gateway closes so no
	// consume loop is still ingesting into a draining batcher.
	workerWg.Wait()

	// Drain the write path last so everything already accepted is flushed
	svc.Close()

	wg.Wait()
	logger.Println("Collector shutdown complete.")
}
