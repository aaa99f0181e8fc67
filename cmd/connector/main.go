// Command connector runs the Vertex exchange connector: a REST surface for
// signed trade execution plus a local WebSocket fan-out of the exchange's
// authenticated subscription stream.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Gaialynx/toadefi/params"
	"github.com/Gaialynx/toadefi/pkg/api"
	"github.com/Gaialynx/toadefi/pkg/storage"
	"github.com/Gaialynx/toadefi/pkg/util"
	"github.com/Gaialynx/toadefi/pkg/vertex"
	"github.com/Gaialynx/toadefi/pkg/vertex/tx"
)

func main() {
	envPath := flag.String("env", "", "path to .env file (default: ./.env)")
	flag.Parse()

	log, err := util.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := params.LoadFromEnv(*envPath)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	journal, err := storage.Open(cfg.Connector.JournalPath)
	if err != nil {
		log.Fatal("failed to open journal", zap.Error(err))
	}
	defer journal.Close()

	signer, err := vertex.NewPayloadSigner(cfg.Exchange.PrivateKey, cfg.Exchange.EndpointContract, cfg.Exchange.ChainID)
	if err != nil {
		log.Fatal("failed to create signer", zap.Error(err))
	}

	sender, err := tx.NewSubaccount(cfg.Exchange.SenderAddress, cfg.Exchange.Subaccount)
	if err != nil {
		log.Fatal("invalid sender subaccount", zap.Error(err))
	}
	if signer.Address().Hex() != sender.Address().Hex() {
		log.Warn("private key does not match sender address; gateway will reject signatures",
			zap.String("signer", signer.Address().Hex()),
			zap.String("sender", sender.Address().Hex()))
	}

	clock := util.RealClock{}
	var nonces *vertex.NonceSource
	if cfg.Connector.NonceFixedLow >= 0 {
		nonces = vertex.NewFixedLowNonceSource(clock, cfg.Connector.NonceSkewMS, uint32(cfg.Connector.NonceFixedLow))
	} else {
		nonces = vertex.NewNonceSource(clock, cfg.Connector.NonceSkewMS)
	}
	if last, ok, err := journal.LastNonce(); err != nil {
		log.Warn("failed to read nonce high-water", zap.Error(err))
	} else if ok {
		nonces.Seed(last)
		log.Info("seeded nonce generator from journal", zap.Uint64("last_nonce", last))
	}

	gateway := vertex.NewGatewayClient(vertex.GatewayConfig{
		URL:              cfg.Exchange.GatewayURL,
		ChainID:          cfg.Exchange.ChainID,
		EndpointContract: cfg.Exchange.EndpointContract,
		CacheBookAddrs:   cfg.Connector.CacheBookAddrs,
	}, signer, nonces, clock, journal, log)

	hub := api.NewHub(log)
	session := vertex.NewSubscriptionSession(vertex.SessionConfig{
		URL:    cfg.Exchange.SubscribeURL,
		Sender: sender,
	}, signer, clock, hub, log)
	defer session.Close()

	server := api.NewServer(gateway, session, journal, hub, cfg.Connector.ReconnectPoll, sender.Address().Hex(), log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Connector.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server stopped", zap.Error(err))
	}
}
