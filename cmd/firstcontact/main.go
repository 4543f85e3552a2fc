package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/itohio/firstcontact/pkg/audio"
	"github.com/itohio/firstcontact/pkg/config"
	"github.com/itohio/firstcontact/pkg/directory"
	"github.com/itohio/firstcontact/pkg/fleet"
	"github.com/itohio/firstcontact/pkg/haptics"
	"github.com/itohio/firstcontact/pkg/statue"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		brokerFlag = flag.String("broker", "", "MQTT broker URL override (e.g., tcp://192.168.4.1:1883)")
		statueFlag = flag.String("statue", "", "Fixed statue name override (skips address-based identity)")
		debugFlag  = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debugFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *brokerFlag != "" {
		cfg.Broker.URL = *brokerFlag
	}
	if *statueFlag != "" {
		cfg.Statue = *statueFlag
	}
	if *debugFlag {
		cfg.Runtime.DebugMode = true
	}

	dir := directory.New()
	if cfg.Directory != "" {
		data, err := os.ReadFile(cfg.Directory)
		if err != nil {
			log.WithError(err).Fatal("failed to read directory file")
		}
		if err := dir.ApplyDocument(data); err != nil {
			log.WithError(err).Fatal("failed to apply directory file")
		}
	}

	var localIP string
	if cfg.Statue == "" {
		localIP, err = statue.LocalIP()
		if err != nil {
			log.WithError(err).Warn("could not determine local address")
		}
	}

	id, err := statue.ResolveIdentity(log, dir, cfg, localIP)
	if err != nil {
		log.WithError(err).Fatal("identity resolution failed")
	}

	// The loopback engine stands in for the codec; the deployment build
	// selects the hardware engine behind the same interface.
	aud := audio.NewLoopback(
		cfg.Audio.SampleRate,
		cfg.Audio.BlockSize,
		float32(cfg.Loopback.NoiseLevel),
		float32(cfg.Loopback.PeerLevel),
	)

	tr := fleet.NewMQTT(log, cfg.Broker.URL, id.Name)

	var hap *haptics.Driver
	if cfg.Haptics.Enabled {
		hap = haptics.New(cfg.Haptics.Port, 0)
		if err := hap.Connect(); err != nil {
			log.WithError(err).Warn("haptics unavailable, continuing without")
			hap = nil
		} else {
			defer hap.Close()
		}
	}

	ctrl := statue.New(log, cfg, dir, id, aud, tr, hap)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Run(ctx); err != nil {
		log.WithError(err).Fatal("controller stopped")
	}
	log.Info("shutdown complete")
}
