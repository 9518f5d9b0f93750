package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/messaging"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept run requests over HTTP and stream run events over websocket",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on")
	serveCmd.Flags().StringP("site", "s", "", "job board: linkedin, indeed or glassdoor")
	serveCmd.Flags().Bool("headless", false, "run the browser without a window")

	viper.BindPFlag("serve.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("site", serveCmd.Flags().Lookup("site"))
	viper.BindPFlag("browser.headless", serveCmd.Flags().Lookup("headless"))
}

func serve() {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := messaging.NewHub(logger.Named("events"))
	a, err := newApplication(ctx, config, logger, hub)
	if err != nil {
		logger.Fatal("preparing the controller", zap.Error(err))
	}
	defer a.Close()

	dispatcher := messaging.NewDispatcher(ctx, a.ctrl, logger.Named("messages"))
	server := messaging.NewServer(config.Serve, dispatcher, hub, a.registry, logger.Named("http"))
	httpServer := server.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("address", httpServer.Addr), zap.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		if err := a.ctrl.Stop(context.Background()); err != nil && a.ctrl.State() != nil {
			logger.Warn("stopping the run", zap.Error(err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
	dispatcher.Wait()
}
