package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/exavolt/xmpp-s2s/pkg/s2sconfig"
)

const stopTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load the configuration and keep it current until stopped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			metricsAddr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return err
			}
			return run(configPath, metricsAddr)
		},
	}
	runCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics on, disabled when empty")
	return runCmd
}

func run(configPath, metricsAddr string) error {
	cfg, err := s2sconfig.Init(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doneCh := make(chan error, 1)
	go func() {
		doneCh <- cfg.Watch(ctx, configPath)
	}()

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.Error("Metrics listener error: ", err)
			}
		}()
	}

	logrus.WithFields(logrus.Fields{"config": configPath, "default_domain": cfg.DefaultDomain()}).
		Info("Running")

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	var forceStop bool
	stopTimer := time.NewTimer(stopTimeout)
	stopTimer.Stop()

mainloop:
	for {
		select {
		case sig := <-signalCh:
			if forceStop {
				logrus.Infof("Got signal %v. Forcing exit.", sig)
				break mainloop
			}
			logrus.Info("Got signal ", sig)
			cancel()
			if metricsSrv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), stopTimeout)
				_ = metricsSrv.Shutdown(shutdownCtx)
				shutdownCancel()
			}
			forceStop = true
			stopTimer.Reset(stopTimeout)
		case <-stopTimer.C:
			logrus.Info("Shutdown timeout. Forcing exit.")
			break mainloop
		case err := <-doneCh:
			if err != nil {
				return err
			}
			break mainloop
		}
	}

	logrus.Info("Exit.")
	return nil
}
