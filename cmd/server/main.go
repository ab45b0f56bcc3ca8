package main

import (
	"flag"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/app"
	"github.com/shrimpsizemoose/tasksync/internal/handlers"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	if schedule := service.Config.Reconcile.Schedule; schedule != "" {
		scheduler, err := app.NewReconcileScheduler(schedule, service.Reconciler)
		if err != nil {
			logger.Error.Fatalf("Failed to schedule reconciliation: %v", err)
		}
		scheduler.StartAsync()
		defer scheduler.Stop()
		logger.Info.Printf("Reconciling all tasks on schedule %q", schedule)
	}

	mux := http.NewServeMux()
	handlers.NewTaskHandler(service).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info.Printf("Starting tasksync server on %s", service.Config.Server.Port)
	for _, s := range service.Config.Remote.Servers {
		logger.Debug.Printf("  remote %s -> %s (org %s)", s.Name, s.URL, s.Org)
	}
	logger.Debug.Println("Requiring headers:")
	for _, h := range service.Config.API.RequiredHeaders {
		logger.Debug.Printf("  %s: %s", h.Name, h.Value)
	}
	if err := http.ListenAndServe(service.Config.Server.Port, mux); err != nil {
		logger.Error.Fatalf("Tasksync server failed: %v", err)
	}
}
