package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/k648x"
	"github.com/shaunagostinho/k648x-driver/internal/logger"
	"github.com/shaunagostinho/k648x-driver/internal/metrics"
	"github.com/shaunagostinho/k648x-driver/internal/server"
	"github.com/shaunagostinho/k648x-driver/web"
)

func main() {
	configPath := flag.String("config", "/etc/k648x/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run every configured instrument against the simulator")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	// Load config
	cfg := server.LoadConfig(*configPath)
	server.SetupLogger(cfg.Logging)

	log := logrus.WithField("component", "main")
	log.Info("k648xd starting")

	if *demo {
		for i := range cfg.Devices {
			cfg.Devices[i].Kind = "sim"
		}
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received %v, shutting down", sig)
		cancel()
	}()

	m := metrics.New()
	trace := logger.New(cfg.Trace)
	defer trace.Close()

	var devices []*device.Device
	for _, dc := range cfg.Devices {
		d, err := device.New(dc,
			k648x.WithObserver(m.Observe),
			k648x.WithObserver(trace.Record))
		if err != nil {
			log.Errorf("skipping device: %v", err)
			continue
		}
		m.Add(d)
		devices = append(devices, d)

		// Connect in the background; the server starts regardless.
		go func(d *device.Device) {
			if err := d.ConnectWithRetry(ctx, 10); err != nil {
				log.Debugf("%s: gave up connecting: %v", d.Name(), err)
			}
		}(d)
	}
	defer func() {
		for _, d := range devices {
			if err := d.Close(); err != nil {
				log.Warnf("%s: close: %v", d.Name(), err)
			}
		}
	}()

	srv := server.New(cfg, devices, m, trace, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Errorf("server exited: %v", err)
	}
}
