package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/franz/media-catalog/internal/remote"
	"github.com/franz/media-catalog/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Offer the local catalogs to replicating peers",
	Long: `Serve the catalog RPC endpoint. Peers holding the shared key can
list the enabled local catalogs, page through their songs and stream
files.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", ":8700", "address to listen on")
	serveCmd.Flags().String("key", "", "shared key peers authenticate with")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("server.key", serveCmd.Flags().Lookup("key"))
}

func runServe(cmd *cobra.Command, args []string) error {
	key := GetConfigString("server.key", "")
	if key == "" {
		return util.NewSyncError(util.ErrInvalidConfig, "", fmt.Errorf("server.key is required"))
	}
	listen := GetConfigString("server.listen", ":8700")

	ctx, cancel := commandContext()
	defer cancel()

	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := remote.NewServer(&remote.ServerConfig{
		Store:      s.store,
		Key:        key,
		SessionTTL: GetConfigDuration("server.session_ttl", remote.DefaultSessionTTL),
		Logger:     s.logger,
	})

	httpServer := &http.Server{
		Addr:              listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		util.InfoLog("Serving catalogs on %s", listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	util.InfoLog("Shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return httpServer.Shutdown(shutdownCtx)
}
