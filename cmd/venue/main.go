package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/venuelabs/venue/params"
	"github.com/venuelabs/venue/pkg/api"
	"github.com/venuelabs/venue/pkg/events"
	"github.com/venuelabs/venue/pkg/treasury"
	"github.com/venuelabs/venue/pkg/util"
	"github.com/venuelabs/venue/pkg/venue"
	"github.com/venuelabs/venue/pkg/venue/fees"
	"github.com/venuelabs/venue/pkg/venue/market"
)

// envAdmin gates admin operations on a single operator address supplied via
// ADMIN_ADDR. An empty address means no admin surface at all.
type envAdmin struct {
	addr common.Address
}

func (a envAdmin) IsAdmin(addr common.Address) bool {
	return a.addr != (common.Address{}) && addr == a.addr
}

func main() {
	cfg := params.LoadFromEnv("")

	level := zapcore.InfoLevel
	if l, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
		level = l
	}

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.Path != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.Path, level)
	} else {
		logger, err = util.NewLogger(level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// ---- Event journal: durable, replayable audit trail ----
	journal, err := events.OpenJournal(filepath.Join(cfg.Storage.DataDir, "journal"))
	if err != nil {
		logger.Fatal("open journal", zap.Error(err))
	}
	defer journal.Close()

	// ---- Treasury & epoch schedule ----
	tr := treasury.New()
	clock := util.RealClock{}
	epochs := treasury.FixedEpochs{
		GenesisMs: clock.NowMs(),
		LengthMs:  24 * 60 * 60 * 1000,
	}

	var admin venue.AdminGate
	if a := os.Getenv("ADMIN_ADDR"); a != "" {
		admin = envAdmin{addr: common.HexToAddress(a)}
	}

	// ---- Engine ----
	hub := api.NewHub(logger)
	go hub.Run()

	ex := market.NewExchange(market.Deps{
		Log:      logger,
		Clock:    clock,
		Treasury: tr,
		Epochs:   epochs,
		Admin:    admin,
		Sink:     events.Tee{journal, hub},
		Fees: fees.Params{
			TradeFeeBps:     cfg.Venue.TradeFeeBps,
			DiscountBps:     cfg.Venue.DiscountBps,
			MakerRebateBps:  cfg.Venue.MakerRebateBps,
			MakerBondBps:    cfg.Venue.MakerBondBps,
			KeeperRewardBps: cfg.Venue.KeeperRewardBps,
			GcRewardBps:     cfg.Venue.GcRewardBps,
		},
		DiscountAsset: cfg.Venue.DiscountAsset,
		DiscountFeed:  cfg.Venue.DiscountFeed,
	})

	// ---- API server ----
	srv := api.NewServer(logger, clock, ex, tr, hub)
	go func() {
		if err := srv.Start(cfg.API.Addr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	logger.Info("venue started",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Uint64("trade_fee_bps", cfg.Venue.TradeFeeBps),
		zap.Uint64("journal_events", journal.Len()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}
