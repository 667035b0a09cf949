package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/board"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and event stream server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	localCache, err := rt.openCache(ctx)
	if err != nil {
		return err
	}

	var validator server.AdminValidator
	var policy chat.DeletePolicy
	if rt.config.AdminAuthEnabled() {
		adminValidator, err := auth.NewAdminValidator(auth.AdminValidatorConfig{
			SigningSecret: []byte(rt.config.AdminSigningSecret),
		})
		if err != nil {
			return err
		}
		validator = adminValidator
		policy = server.AdminDeletePolicy()
	} else {
		logger.Warn("admin signing secret not configured; message deletion follows the local admin flag")
	}

	jobBoard, err := board.New(board.Config{
		Client:       rt.docs,
		Cache:        localCache,
		DeletePolicy: policy,
		Logger:       logger.Named("board"),
	})
	if err != nil {
		return err
	}
	dispatcher := server.NewRealtimeDispatcher()
	jobBoard.SetListener(dispatcher.PublishBoardEvent)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := jobBoard.Start(signalCtx); err != nil {
		return err
	}
	defer jobBoard.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Board:          jobBoard,
		Realtime:       dispatcher,
		AdminValidator: validator,
		AdminFlag:      localCache,
		AllowedOrigins: rt.config.CORSAllowedOrigins,
		Logger:         logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    rt.config.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", rt.config.HTTPAddress),
			zap.String("project_id", rt.config.ProjectID),
			zap.String("cache_driver", rt.config.CacheDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
