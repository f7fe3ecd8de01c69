package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"crowdfund/internal/actions"
	"crowdfund/internal/campaign"
	"crowdfund/internal/config"
	"crowdfund/internal/contract"
	"crowdfund/internal/idempotency"
	"crowdfund/internal/reader"
	"crowdfund/internal/server"
	"crowdfund/internal/session"
	"crowdfund/internal/submitter"
	"crowdfund/internal/wallet"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if err := log.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.SetLevel(logrus.InfoLevel)
	}

	ctx := context.Background()
	network := contract.Network{
		Name:       cfg.Network.Name,
		RPCURL:     cfg.Network.RPCURL,
		Passphrase: cfg.Network.Passphrase,
		ChainID:    cfg.Network.ChainID,
		Contract:   cfg.Network.Contract,
		Token:      cfg.Network.Token,
	}

	signer, err := newWallet(cfg, network)
	if err != nil {
		log.WithError(err).Fatal("wallet error")
	}

	var client contract.Client
	if cfg.Chain.Fake {
		client = contract.NewFakeContract(network, campaign.Info{
			Owner:       signer.Address(),
			Title:       "Demo campaign",
			Goal:        cfg.Campaign.Goal,
			Deadline:    time.Now().Add(cfg.Campaign.Lifetime),
			Status:      campaign.StatusActive,
			MinDonation: cfg.Campaign.MinDonation,
		}, nil)
		log.WithField("network", network.Name).Warn("running against the in-memory contract")
	} else {
		eth, err := contract.Dial(ctx, contract.Config{Network: network, Caller: signer.Address()})
		if err != nil {
			log.WithError(err).Fatal("contract client error")
		}
		defer eth.Close()
		client = eth
	}

	provider, err := reader.SelectInfoProvider(ctx, client, reader.Defaults{
		Goal:        cfg.Campaign.Goal,
		Lifetime:    cfg.Campaign.Lifetime,
		MinDonation: cfg.Campaign.MinDonation,
	}, nil, log)
	if err != nil {
		log.WithError(err).Fatal("campaign info probe error")
	}
	rd := reader.New(client, provider)

	store, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("idempotency store error")
	}
	defer closeStore()

	metrics := server.NewMetrics()
	failures := server.NewFailureLog(cfg.Service.FailureLogPath, log)
	sess := session.New(rd, signer, session.WithLogger(log), session.WithObserver(metrics))
	sub := submitter.New(client, signer,
		submitter.WithLogger(log),
		submitter.WithObserver(metrics),
		submitter.WithPollInterval(cfg.Chain.PollInterval),
		submitter.WithConfirmTimeout(cfg.Chain.ConfirmTimeout),
		submitter.WithOnSuccess(func(ctx context.Context, res submitter.Result) {
			sess.AfterConfirmed(ctx, res.TxHash)
		}),
		submitter.WithOnError(failures.Record),
	)
	acts := actions.New(signer, sub, network.Token, actions.WithLogger(log))

	apiServer := server.NewServer(cfg, server.Deps{
		Session:    sess,
		Reader:     rd,
		Actions:    acts,
		Submitter:  sub,
		Store:      store,
		FailureLog: failures,
		Metrics:    metrics,
		Contract:   client,
	}, log)

	log.WithFields(logrus.Fields{
		"network":     network.Name,
		"caller":      signer.Address(),
		"info_source": rd.InfoSource(),
	}).Info("crowdfund service configured")

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

// newWallet returns the local key signer, or a fake signer for the same
// address when running against the in-memory contract.
func newWallet(cfg *config.AppConfig, network contract.Network) (wallet.Wallet, error) {
	if cfg.Chain.PrivateKey == "" {
		return wallet.None{}, nil
	}
	keyed, err := wallet.NewKeyedWallet(cfg.Chain.PrivateKey, network)
	if err != nil {
		return nil, err
	}
	if cfg.Chain.Fake {
		return wallet.FakeWallet{Account: keyed.Address()}, nil
	}
	return keyed, nil
}

func newStore(ctx context.Context, cfg *config.AppConfig, log logrus.FieldLogger) (idempotency.Store, func(), error) {
	if cfg.Service.DatabaseURL != "" {
		pg, err := idempotency.NewPostgresStore(ctx, cfg.Service.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if n, err := pg.Purge(ctx); err != nil {
			log.WithError(err).Warn("purge expired submission records")
		} else if n > 0 {
			log.WithField("removed", n).Info("purged expired submission records")
		}
		return pg, pg.Close, nil
	}
	fs, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
