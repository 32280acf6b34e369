// Copyright 2026 The Workvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/workvisor/workvisor"
	"github.com/workvisor/workvisor/app"
	"github.com/workvisor/workvisor/rest"
)

const (
	keyConfig            = "config"
	keyAdminBind         = "admin-bind"
	keyAdminUser         = "admin-user"
	keyAdminPasswordHash = "admin-password-hash"
	keyDevelopment       = "development"
	keyLogLevel          = "log-level"
)

var rootCmd = &cobra.Command{
	Use:   "workvisord",
	Short: "Pre-fork HTTP worker supervisor",
	Long: `workvisord binds one listening socket and serves a registered
application from a fixed pool of worker processes sharing it.  Crashed
workers are replaced; requests running longer than the timeout are
abandoned with 504 Gateway Timeout.

Applications: ` + strings.Join(app.Names(), ", "),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return serve()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor (the default)",
	RunE:  rootCmd.RunE,
}

func init() {
	def := workvisor.DefaultConfig()
	fs := rootCmd.PersistentFlags()
	fs.String(keyConfig, "", "Configuration file (YAML, TOML or JSON)")
	fs.String(workvisor.KeyBind, def.BindAddress, "Address to serve on")
	fs.Int(workvisor.KeyWorkers, def.Workers, "Number of worker processes")
	fs.Int(workvisor.KeyTimeout, def.TimeoutSeconds, "Request timeout in seconds")
	fs.String(workvisor.KeyApp, def.Application, "Application to serve")
	fs.Int(workvisor.KeyGraceTimeout, def.GraceSeconds, "Seconds to wait for workers on shutdown, never less than the request timeout")
	fs.Int(workvisor.KeyMaxConnections, def.MaxConnections, "Connection limit per worker, 0 for none")
	fs.Duration(workvisor.KeyHeartbeatInterval, def.HeartbeatInterval, "Worker heartbeat interval")
	fs.Duration(workvisor.KeyHeartbeatTimeout, def.HeartbeatTimeout, "Kill workers silent for this long, 0 to never")
	fs.String(workvisor.KeyTimeoutPolicy, string(def.TimeoutPolicy), "On timeout: respond (504) or close")
	fs.String(workvisor.KeyWorkerMode, string(def.WorkerMode), "Run workers as a process or inprocess")
	fs.String(keyAdminBind, "", "Address for the admin API, empty to disable")
	fs.String(keyAdminUser, "admin", "User name for the admin API")
	fs.String(keyAdminPasswordHash, "", "Bcrypt hash of the admin API password, empty for no authentication")
	fs.Bool(keyDevelopment, false, "Use development logger config")
	fs.String(keyLogLevel, "info", "Log level")

	if err := viper.BindPFlags(fs); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix(workvisor.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &workvisor.ConfigurationError{Field: "flags", Value: cmd.Name(), Err: err}
	})
	rootCmd.AddCommand(serveCmd, workerCmd)
}

// loadConfig merges flags, environment and the optional config file.
func loadConfig() (workvisor.Config, error) {
	cfg := workvisor.DefaultConfig()
	if file := viper.GetString(keyConfig); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return cfg, &workvisor.ConfigurationError{Field: keyConfig, Value: file, Err: err}
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, &workvisor.ConfigurationError{Field: keyConfig, Value: "", Err: err}
	}
	return cfg, cfg.Validate()
}

// newLogger builds the zap logger.  If ring is not nil, records are also
// kept there.
func newLogger(ring *workvisor.Log) (logr.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if viper.GetBool(keyDevelopment) {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(viper.GetString(keyLogLevel))
	if err != nil {
		return logr.Discard(), nil, &workvisor.ConfigurationError{
			Field: keyLogLevel, Value: viper.GetString(keyLogLevel), Err: err}
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if ring != nil {
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, ring.Core(zc.Level))
		}))
	}
	zl, err := zc.Build(opts...)
	if err != nil {
		return logr.Discard(), nil, err
	}
	return zapr.NewLogger(zl), func() { zl.Sync() }, nil
}

func serve() error {
	ring := workvisor.NewLog(workvisor.MaxLogRecords)
	logger, sync, err := newLogger(ring)
	if err != nil {
		return err
	}
	defer sync()
	setupLog := logger.WithName("setup")

	cfg, err := loadConfig()
	if err != nil {
		setupLog.Error(err, "bad configuration")
		return err
	}

	p, err := newProvider(cfg)
	if err != nil {
		return err
	}
	s, err := workvisor.NewSupervisor(cfg, p)
	if err != nil {
		return err
	}
	s.SetLogger(logger.WithName("supervisor"))

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	if addr := viper.GetString(keyAdminBind); addr != "" {
		admin := startAdmin(addr, s, ring, logger.WithName("admin"))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			admin.Shutdown(ctx)
		}()
	}

	return s.Run(context.Background(), sigs)
}

// loggingEnviron carries the logger settings, which are not part of
// workvisor.Config, to worker processes.
func loggingEnviron() []string {
	return []string{
		workvisor.EnvName(keyLogLevel) + "=" + viper.GetString(keyLogLevel),
		workvisor.EnvName(keyDevelopment) + "=" + strconv.FormatBool(viper.GetBool(keyDevelopment)),
	}
}

// newProvider returns nil for in-process workers, leaving the choice to
// the supervisor.
func newProvider(cfg workvisor.Config) (workvisor.Provider, error) {
	if cfg.WorkerMode != workvisor.ModeProcess {
		return nil, nil
	}
	p, err := workvisor.NewProcessProvider()
	if err != nil {
		return nil, err
	}
	p.Env = append(p.Env, loggingEnviron()...)
	return p, nil
}

func startAdmin(addr string, s *workvisor.Supervisor, ring *workvisor.Log, logger logr.Logger) *http.Server {
	h := rest.NewHandler(s, ring)
	h.SetLogger(logger)
	if hash := viper.GetString(keyAdminPasswordHash); hash != "" {
		h.SetBasicAuth(viper.GetString(keyAdminUser), []byte(hash))
	}
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		logger.Info("admin API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "admin API failed")
		}
	}()
	return srv
}
