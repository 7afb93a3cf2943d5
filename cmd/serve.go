package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the CIN Capture web server.
The web server exposes the capture workflow and the document listing as a JSON API.
Each browser session gets its own capture run and listing.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (0 = WEB_PORT or 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (empty = WEB_HOST or 0.0.0.0)")
	serveCmd.Flags().String("session-secret", "", "Secret for signing session cookies (defaults to WEB_SESSION_SECRET)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if secret := mustGetString(cmd, "session-secret"); secret != "" {
		cfg.Web.SessionSecret = secret
	}
	if cfg.Web.SessionSecret == "" {
		log.Warn("no session secret configured, using the development secret")
	}

	ctx := cmd.Context()
	client, err := newServiceClient(cfg, log)
	if err != nil {
		return err
	}
	recognizer, err := newRecognizer(ctx, cfg, client)
	if err != nil {
		return err
	}
	faces, onDelete, err := newFaceSearcher(cfg, client, log)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg, web.Deps{
		Recognizer: recognizer,
		Portraits:  client,
		Saver:      client,
		Store:      client,
		Faces:      faces,
		Health:     client,
		Linker:     client,
		OnDelete:   onDelete,
	}, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting CIN Capture on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Recognizer: %s, face search: %s\n", cfg.Recognizer.Backend, cfg.FaceSearch.Backend)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	printUsage(recognizer)
	return nil
}
