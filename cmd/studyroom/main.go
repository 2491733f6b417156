package main

import (
	"context"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/sirupsen/logrus"

	"studyroom/internal/app"
	"studyroom/internal/config"
)

const shutdownTimeout = 30 * time.Second

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	os.Exit(run())
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run() int {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv(config.EnvPrefix + "CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return 1
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to create application")
		return 1
	}
	log := application.Logger()

	// STEP 3: Start serving
	if err := application.Start(context.Background()); err != nil {
		log.WithError(err).Error("Failed to start application")
		return 1
	}
	log.WithFields(logrus.Fields{
		"addr":       application.GetAddr(),
		"websocket":  "/ws",
		"api":        "/api/",
		"role_cache": cfg.Redis.Addr != "",
	}).Info("Studyroom ready")

	// STEP 4: Wait for SIGINT/SIGTERM, then stop within the timeout
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"studyroom": func(ctx context.Context) error {
				log.Info("Graceful shutdown initiated")
				return application.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.WithField("exit_code", exitCode).Info("Studyroom exited")
	return exitCode
}
