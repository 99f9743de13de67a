package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/k648x-driver/internal/console"
	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/k648x/config.yaml", "Path to config file")
	only := flag.String("device", "", "Only open the named instrument")
	demo := flag.Bool("demo", false, "Talk to the simulator instead of real ports")
	flag.Parse()

	cfg := server.LoadConfig(*configPath)
	server.SetupLogger(cfg.Logging)

	var devices []*device.Device
	for _, dc := range cfg.Devices {
		if *only != "" && !strings.EqualFold(dc.Name, *only) {
			continue
		}
		if *demo {
			dc.Kind = "sim"
		}
		d, err := device.New(dc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		devices = append(devices, d)
	}

	c, err := console.New(devices)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logrus.SetOutput(c.Stderr())

	for _, d := range devices {
		if err := d.Connect(); err != nil {
			fmt.Fprintf(c.Stdout(), "%s: %v (use 'connect' to retry)\n", d.Name(), err)
		}
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Run(ctx, cancel)
}
