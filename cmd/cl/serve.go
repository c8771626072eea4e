package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"caseline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
				addr = a.Config.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyHeader,
				Logger:                 a.Logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				DevLogin: devLogin,
				Logger:   a.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			a.Logger.Info("serving caseline api",
				zap.String("addr", addr), zap.String("base_path", basePath),
				zap.Bool("dev_login", devLogin), zap.Bool("legacy_actor_header", legacyHeader))
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env CASELINE_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login to mint tokens")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without a token")
	return cmd
}
