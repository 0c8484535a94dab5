package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/ardanlabs/conf/v3"
	"github.com/blobworks/blob-revenue-engine/api"
	"github.com/blobworks/blob-revenue-engine/blob"
	"github.com/blobworks/blob-revenue-engine/chain"
	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/cycle"
	"github.com/blobworks/blob-revenue-engine/db"
	"github.com/blobworks/blob-revenue-engine/endpoints"
	"github.com/blobworks/blob-revenue-engine/identity"
	"github.com/blobworks/blob-revenue-engine/journal"
	"github.com/blobworks/blob-revenue-engine/kafka"
	"github.com/blobworks/blob-revenue-engine/market"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/blobworks/blob-revenue-engine/relay"
	"github.com/blobworks/blob-revenue-engine/router"
	"github.com/blobworks/blob-revenue-engine/submit"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const envPrefix = "BLOB_ENGINE"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	log.SetOutput(os.Stdout)
	_ = godotenv.Load()

	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		Engine struct {
			Seed              string        `conf:"required,mask"`
			FinalWallet       string        `conf:"required"`
			BlobsPerCycle     int           `conf:"default:3"`
			CycleInterval     time.Duration `conf:"default:15s"`
			CycleJitter       time.Duration `conf:"default:3s"`
			ErrorBackoff      time.Duration `conf:"default:30s"`
			Cooldown          time.Duration `conf:"default:300s"`
			FailureThreshold  uint          `conf:"default:3"`
			CommitmentScheme  string        `conf:"default:kzg"`
			SubmissionChannel string        `conf:"default:rpc"`
			SweepExecutor     string        `conf:"default:direct"`
		}
		Chain struct {
			Network             string        `conf:"default:mainnet"`
			ChainId             int64         `conf:"default:1"`
			Endpoints           []string      `conf:"default:http://localhost:8545"`
			ProbeTimeout        time.Duration `conf:"default:5s"`
			CallTimeout         time.Duration `conf:"default:20s"`
			EnvelopeGasLimit    uint64        `conf:"default:250000"`
			PriorityFeeCapWei   int64         `conf:"default:1500000000"`
			FallbackGasPriceWei int64         `conf:"default:20000000000"`
			BlobFeeCapWei       int64         `conf:"default:1000000000"`
			RelayUrl            string        `conf:"optional"`
		}
		Market struct {
			Venues            []string      `conf:"optional"`
			VenueApiKey       string        `conf:"optional,mask"`
			SettlementTimeout time.Duration `conf:"default:120s"`
			PollInterval      time.Duration `conf:"default:3s"`
			RequestTimeout    time.Duration `conf:"default:10s"`
			GrantsUrl         string        `conf:"optional"`
			GrantAmountWei    int64         `conf:"default:10000000000000"`
			GrantTtl          time.Duration `conf:"default:24h"`
		}
		Router struct {
			SweepThresholdWei int64         `conf:"default:10000000000000000"`
			DelayMin          time.Duration `conf:"default:180s"`
			DelayMax          time.Duration `conf:"default:540s"`
			BridgeUrl         string        `conf:"optional"`
		}
		Store struct {
			InternalStoreFolder string `conf:"default:store"`
		}
		Journal struct {
			Path string `conf:"default:cycles.log"`
		}
		Broker struct {
			Enabled          bool     `conf:"default:false"`
			BootstrapServers []string `conf:"default:localhost:9092"`
			ProduceTopic     string   `conf:"default:blob-cycle-outcomes"`
		}
		Server struct {
			ServerPort       int    `conf:"default:8000"`
			MetricsPort      int    `conf:"default:9999"`
			MetricsNamespace string `conf:"default:blob_engine"`
		}
	}

	help, err := conf.Parse(envPrefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	if !common.IsHexAddress(cfg.Engine.FinalWallet) {
		return fmt.Errorf("final wallet [%s] is not a valid address", cfg.Engine.FinalWallet)
	}
	finalWallet := common.HexToAddress(cfg.Engine.FinalWallet)

	clk := clock.System()
	procMetrics := metrics.NewProcessingMetrics(cfg.Server.MetricsNamespace)

	identityManager, err := identity.NewManager(cfg.Engine.Seed)
	if err != nil {
		return fmt.Errorf("creating identity manager: %w", err)
	}

	scheme, err := blob.SchemeByName(cfg.Engine.CommitmentScheme)
	if err != nil {
		return fmt.Errorf("selecting commitment scheme: %w", err)
	}
	builder := blob.NewBuilder(scheme, sLogger)

	chainID := big.NewInt(cfg.Chain.ChainId)
	dialer := chain.NewDialer()
	defer dialer.Close()

	registry, err := endpoints.NewRegistry(dialer, []endpoints.Network{{
		Name:    cfg.Chain.Network,
		ChainID: chainID,
		URLs:    cfg.Chain.Endpoints,
	}}, cfg.Chain.ProbeTimeout, clk, procMetrics, sLogger)
	if err != nil {
		return fmt.Errorf("creating endpoint registry: %w", err)
	}

	chainClient := chain.NewClient(dialer, registry, cfg.Chain.Network, cfg.Chain.CallTimeout, chain.FeeConfig{
		PriorityFeeCap:   big.NewInt(cfg.Chain.PriorityFeeCapWei),
		FallbackGasPrice: big.NewInt(cfg.Chain.FallbackGasPriceWei),
		BlobFeeCap:       big.NewInt(cfg.Chain.BlobFeeCapWei),
	}, sLogger)

	var channel submit.Channel
	switch cfg.Engine.SubmissionChannel {
	case "rpc":
		channel = submit.NewRPCChannel(chainClient)
	case "relay":
		if cfg.Chain.RelayUrl == "" {
			return errors.New("relay submission channel needs a relay url")
		}
		channel = submit.NewRelayChannel(cfg.Chain.RelayUrl, cfg.Chain.CallTimeout)
	default:
		return fmt.Errorf("unknown submission channel [%s]", cfg.Engine.SubmissionChannel)
	}
	submitter := submit.NewSubmitter(chainClient, channel, chainID, cfg.Chain.EnvelopeGasLimit, procMetrics, sLogger)

	venues, err := parseVenues(cfg.Market.Venues, cfg.Market.VenueApiKey, cfg.Market.SettlementTimeout,
		cfg.Market.PollInterval, cfg.Market.RequestTimeout, clk)
	if err != nil {
		return fmt.Errorf("parsing venues: %w", err)
	}
	var fallback market.FallbackMinter
	if cfg.Market.GrantsUrl != "" {
		fallback = market.NewGrantMinter(cfg.Market.GrantsUrl, big.NewInt(cfg.Market.GrantAmountWei),
			cfg.Market.GrantTtl, cfg.Market.RequestTimeout)
	}
	reseller := market.NewResaleClient(venues, fallback, procMetrics, sLogger)

	var executor router.Executor
	switch cfg.Engine.SweepExecutor {
	case "direct":
		executor = router.NewDirectExecutor(chainClient, chainID, sLogger)
	case "bridge":
		if cfg.Router.BridgeUrl == "" {
			return errors.New("bridge sweep executor needs a bridge url")
		}
		relayClient := relay.NewClient(cfg.Router.BridgeUrl, cfg.Chain.CallTimeout)
		executor = router.NewBridgeExecutor(relayClient, chainID, finalWallet, sLogger)
	default:
		return fmt.Errorf("unknown sweep executor [%s]", cfg.Engine.SweepExecutor)
	}

	store, err := db.NewPebbleStore(cfg.Store.InternalStoreFolder)
	if err != nil {
		return fmt.Errorf("creating pebble store: %w", err)
	}
	defer store.Close()

	fundRouter, err := router.NewRouter(chainClient, identityManager, executor, store, clk, router.Config{
		SweepThreshold: big.NewInt(cfg.Router.SweepThresholdWei),
		DelayMin:       cfg.Router.DelayMin,
		DelayMax:       cfg.Router.DelayMax,
		FinalWallet:    finalWallet,
	}, procMetrics, sLogger)
	if err != nil {
		return fmt.Errorf("creating fund router: %w", err)
	}

	cycleJournal, err := journal.New(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("creating cycle journal: %w", err)
	}
	defer cycleJournal.Close()

	sinks := []cycle.OutcomeSink{store, cycleJournal}
	if cfg.Broker.Enabled {
		kafkaMetrics := kprom.NewMetrics(cfg.Server.MetricsNamespace,
			kprom.Registerer(prometheus.DefaultRegisterer),
			kprom.Gatherer(prometheus.DefaultGatherer))
		kcl, err := kgo.NewClient(
			kgo.WithHooks(kafkaMetrics),
			kgo.SeedBrokers(cfg.Broker.BootstrapServers...),
			kgo.DefaultProduceTopic(cfg.Broker.ProduceTopic),
			kgo.ProducerBatchCompression(kgo.ZstdCompression()),
		)
		if err != nil {
			return fmt.Errorf("creating kafka client: %w", err)
		}
		defer kcl.Close()
		sinks = append(sinks, kafka.NewOutcomeProducer(kcl))
	}

	processor := cycle.NewProcessor(identityManager, builder, submitter, reseller, fundRouter, sinks, clk, cycle.Config{
		BlobsPerCycle:    cfg.Engine.BlobsPerCycle,
		Interval:         cfg.Engine.CycleInterval,
		IntervalJitter:   cfg.Engine.CycleJitter,
		ErrorBackoff:     cfg.Engine.ErrorBackoff,
		Cooldown:         cfg.Engine.Cooldown,
		FailureThreshold: cfg.Engine.FailureThreshold,
	}, procMetrics, sLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go processor.Start(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// status and metrics endpoint
	apiError := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		server := api.NewHandler(store, registry, clk)
		mux.HandleFunc("/health", server.GetHealth)
		mux.HandleFunc("/status", server.GetStatus)
		log.Printf("main: Starting server on port [%d].", cfg.Server.ServerPort)
		apiError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.ServerPort), mux)
	}()

	metricsError := make(chan error, 1)
	go func() {
		log.Printf("main: Starting metrics server on port [%d].", cfg.Server.MetricsPort)
		http.Handle("/metrics", promhttp.Handler())
		metricsError <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.MetricsPort), nil)
	}()

	log.Println("main: Service started.")

	for {
		select {
		case <-shutdown:
			log.Println("main: Received shutdown signal, shutting down...")
			return nil
		case err := <-metricsError:
			return fmt.Errorf("[ERROR] starting metrics server: %v", err)
		case err := <-apiError:
			return fmt.Errorf("[ERROR] starting api server: %v", err)
		}
	}
}

// parseVenues turns name=url=contract triplets into venue clients. All
// venues share the api key and the settlement timing.
func parseVenues(entries []string, apiKey string, settlementTimeout, pollInterval, requestTimeout time.Duration,
	clk clock.Clock) ([]market.Venue, error) {

	venues := make([]market.Venue, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, "=")
		if len(parts) != 3 {
			return nil, fmt.Errorf("venue [%s] is not in name=url=contract form", entry)
		}
		if !common.IsHexAddress(parts[2]) {
			return nil, fmt.Errorf("venue [%s] has an invalid contract address", parts[0])
		}
		venues = append(venues, market.NewHTTPVenue(market.VenueConfig{
			Name:     parts[0],
			BaseURL:  parts[1],
			Contract: common.HexToAddress(parts[2]),
			APIKey:   apiKey,
		}, settlementTimeout, pollInterval, requestTimeout, clk))
	}
	return venues, nil
}
