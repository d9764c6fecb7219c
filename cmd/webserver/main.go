package main

import (
	"bytes"
	"flag"
	"fmt"
	"github.com/fzft/go-mock-webserver/config"
	"github.com/fzft/go-mock-webserver/connpool"
	"github.com/fzft/go-mock-webserver/log"
	"github.com/fzft/go-mock-webserver/node"
	"github.com/fzft/go-mock-webserver/threadpool"
	"go.uber.org/zap"
	"os"
)

func main() {
	path := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, stopLog, err := log.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer stopLog()

	logger.Info("starting webserver", node.Build().Fields()...)

	// each worker leases a scratch buffer for the duration of one request
	resources, err := connpool.New[*bytes.Buffer](cfg.SQLNum, func() (*bytes.Buffer, error) {
		return new(bytes.Buffer), nil
	}, nil, logger)
	if err != nil {
		logger.Fatal("create resource pool", zap.Error(err))
	}
	defer resources.Close()

	pool, err := threadpool.New[*bytes.Buffer](cfg.Model(), resources, cfg.ThreadNum, cfg.MaxRequests, logger)
	if err != nil {
		logger.Fatal("create thread pool", zap.Error(err))
	}

	s := node.NewServer[*bytes.Buffer](cfg.ServerOptions(), pool, node.EchoHandler{}, logger)
	if err := s.Run(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
