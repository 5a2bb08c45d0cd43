package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	aquatrack "github.com/bt-tracker/aquatrack"
	"github.com/bt-tracker/aquatrack/accesslist"
	"github.com/bt-tracker/aquatrack/frontend/http"
	"github.com/bt-tracker/aquatrack/frontend/udp"
	"github.com/bt-tracker/aquatrack/frontend/ws"
	"github.com/bt-tracker/aquatrack/pkg/log"
	"github.com/bt-tracker/aquatrack/pkg/stop"
	"github.com/bt-tracker/aquatrack/stats"
	"github.com/bt-tracker/aquatrack/swarm"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the tracker's front-ends until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML configuration file")

	return cmd
}

func runServe(configPath string) error {
	cfg, err := aquatrack.Load(configPath)
	if err != nil {
		return err
	}

	log.SetDebug(cfg.LogLevel == "debug")
	if dump, err := yaml.Marshal(cfg); err == nil {
		log.Debug("loaded configuration", log.Fields{"yaml": string(dump)})
	}

	al, err := accesslist.New(cfg.AccessList)
	if err != nil {
		return err
	}

	router := swarm.NewRouter(cfg.Swarm, al)
	log.Info("swarm router started", cfg.Swarm.LogFields())

	group := stop.NewGroup()
	group.Add(al)
	group.Add(router)

	if cfg.HTTP != nil {
		fe, err := http.NewFrontend(*cfg.HTTP, al, router)
		if err != nil {
			return err
		}
		log.Info("http frontend started", fe.LogFields())
		group.Add(fe)
	}

	if cfg.UDP != nil {
		fe, err := udp.NewFrontend(*cfg.UDP, al, router)
		if err != nil {
			return err
		}
		log.Info("udp frontend started", fe.LogFields())
		group.Add(fe)
	}

	if cfg.WS != nil {
		fe, err := ws.NewFrontend(*cfg.WS, al, router)
		if err != nil {
			return err
		}
		log.Info("ws frontend started", fe.LogFields())
		group.Add(fe)
	}

	if cfg.StatsAddr != "" {
		statsSrv, err := stats.NewServer(cfg.StatsAddr)
		if err != nil {
			return err
		}
		log.Info("stats server started", log.Fields{"addr": cfg.StatsAddr})
		group.Add(statsSrv)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	reload := makeReloadChan()

	for {
		select {
		case <-reload:
			log.Info("reloading access list", nil)
			al.Reload()
		case <-shutdown:
			log.Info("shutting down", nil)
			for _, err := range group.Stop() {
				log.Error("error during shutdown", log.Err(err))
			}
			return nil
		}
	}
}
