package main

import (
	"log"

	"go.uber.org/zap"
)

func main() {
	cfg, err := LoadEnvConfig()
	if err != nil {
		log.Fatal("Error while loading config: ", err)
	}

	if err := InitLogger(cfg); err != nil {
		log.Fatal("Error while initializing logger: ", err)
	}
	defer SyncLogger()

	accounts := DemoAccounts()
	ledger := NewLedger(accounts...)

	pins, err := NewPINMatcher(cfg, accounts)
	if err != nil {
		Log.Fatal("Error while preparing pin matcher", zap.Error(err))
	}

	controller := NewController(ledger, pins, Log.Named("session"))

	server := NewAPIServer(cfg.ListenAddr, controller, cfg, Log.Named("api"))
	if err := server.Run(); err != nil {
		Log.Fatal("Server stopped", zap.Error(err))
	}
}
