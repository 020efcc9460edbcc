package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"mail-aggregator-go/internal/app"
)

func main() {
	configFile := flag.String("config", "", "path to the config file (default: ./config.yaml or ./config/config.yaml)")
	flag.Parse()

	if err := app.Run(*configFile); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
