package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/SwitchGaming/ten-push-gateway/internal/apns"
	"github.com/SwitchGaming/ten-push-gateway/internal/config"
	"github.com/SwitchGaming/ten-push-gateway/internal/server"
	"github.com/SwitchGaming/ten-push-gateway/internal/service"
	"github.com/SwitchGaming/ten-push-gateway/internal/storage/bolt"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	apnsClient, err := apns.New(apns.HostForEnvironment(cfg.APNs.Environment), cfg.APNs.Topic, cfg.APNs.RequestTimeout)
	if err != nil {
		log.Fatalf("init apns client: %v", err)
	}

	store, err := bolt.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	authSvc := service.NewAuthService(cfg)
	deviceSvc := service.NewDeviceService(store)
	dispatchSvc := service.NewDispatchService(store, apnsClient, cfg)
	logSvc := service.NewDeliveryLogService(store)

	srv := server.New(cfg, dispatchSvc, deviceSvc, logSvc, authSvc)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	// graceful shutdown
	waitForSignal()
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
