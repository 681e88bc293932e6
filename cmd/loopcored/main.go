// Copyright 2025 Certen Protocol
//
// loopcored runs a single validator node: loads its identity and rep
// set, starts the /metrics endpoint, and drives one consensus round to
// completion using in-process votes from a local key set (a network
// transport is outside this repo's scope - see Broadcaster in
// pkg/consensus for the seam a real one would plug into).

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/consensus"
	"github.com/certen/independant-validator/pkg/cryptosign"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/peer"
	"github.com/certen/independant-validator/pkg/types"
	"github.com/certen/independant-validator/pkg/vote"
)

// committedHeightFetcher implements consensus.StatusFetcher over a
// height this process updates itself as rounds decide; a networked
// deployment would instead report the height learned from peers.
type committedHeightFetcher struct {
	height  *atomic.Uint64
	numReps int
}

func (f *committedHeightFetcher) GetStatus(ctx context.Context) (*consensus.RoundStatus, error) {
	return &consensus.RoundStatus{
		CommittedHeight: f.height.Load(),
		ReachableReps:   f.numReps,
	}, nil
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting loopcored")

	var (
		validatorID = flag.String("validator-id", "", "validator ID (overrides VALIDATOR_ID env var)")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()
	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}

	signer, err := loadOrGenerateSigner(cfg)
	if err != nil {
		log.Fatalf("load signer: %v", err)
	}
	log.Printf("validator address: %s", signer.Address().String())

	reps, err := cfg.LoadReps()
	if err != nil {
		log.Fatalf("load reps: %v", err)
	}
	repAddrs := peer.Addresses(reps)
	log.Printf("loaded %d reps for channel %q", len(repAddrs), cfg.ChannelName)

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	var committedHeight atomic.Uint64
	stallMonitor := consensus.NewStallMonitor(
		consensus.DefaultStallMonitorConfig(),
		&committedHeightFetcher{height: &committedHeight, numReps: len(repAddrs)},
	)
	stallMonitor.SetOnStallDetected(func(height uint64, dur time.Duration) {
		log.Printf("alert: consensus stalled at height %d for %v", height, dur)
	})
	if err := stallMonitor.Start(); err != nil {
		log.Fatalf("start stall monitor: %v", err)
	}
	defer stallMonitor.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := stallMonitor.GetHealthStatus()
		w.Header().Set("Content-Type", "application/json")
		if report.Status == "stalled" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Printf("encode health report: %v", err)
		}
	})
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	roundCfg := consensus.RoundConfig{
		BlockVotingRatio:  cfg.BlockVotingRatio,
		LeaderVotingRatio: cfg.LeaderVotingRatio,
		RoundTimeout:      cfg.RoundTimeout,
	}
	go runDemoRound(ctx, repAddrs, signer, roundCfg, m, &committedHeight)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	log.Printf("stopped")
}

// runDemoRound drives one round to a decided status using this node's
// own signer for every rep slot, since no network transport is wired.
// A real deployment replaces this with a Broadcaster backed by p2p and
// SubmitBlockVote/SubmitLeaderVote calls fed by inbound messages.
func runDemoRound(ctx context.Context, reps []types.Address20, signer *cryptosign.Signer, cfg consensus.RoundConfig, m *metrics.Registry, committedHeight *atomic.Uint64) {
	if len(reps) == 0 {
		log.Printf("no reps loaded, skipping demo round")
		return
	}

	blockHash, err := types.HashFromBytes([]byte("loopcored-demo-block-hash-000000"))
	if err != nil {
		log.Printf("demo round: hash block: %v", err)
		return
	}

	r := consensus.NewRound(reps, signer, nil, cfg, 1, 0, blockHash, types.Address20{}, m)
	r.OnDecided(func(status consensus.Status, blockResult *bool, newLeader *types.Address20) {
		log.Printf("demo round decided: status=%s", status)
	})

	for i, addr := range reps {
		v, err := vote.NewBlockVote(addr, time.Now().Unix(), 1, 0, blockHash, signer.SignHash)
		if err != nil {
			log.Printf("demo round: build vote %d: %v", i, err)
			return
		}
		if err := r.SubmitBlockVote(v); err != nil {
			log.Printf("demo round: submit vote %d: %v", i, err)
			return
		}
		if r.Status() != consensus.StatusPending {
			break
		}
	}

	status, err := r.Await(ctx)
	if err != nil {
		log.Printf("demo round: await: %v", err)
		return
	}
	if status == consensus.StatusDecidedTrue {
		committedHeight.Store(1)
	}
	log.Printf("demo round finished with status=%s", status)
}

// loadOrGenerateSigner loads a secp256k1 private key from
// cfg.PrivateKeyPath, generating and persisting one if absent.
func loadOrGenerateSigner(cfg *config.Config) (*cryptosign.Signer, error) {
	keyPath := cfg.PrivateKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "validator_key.hex")
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		prikey, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode private key file %s: %w", keyPath, err)
		}
		return cryptosign.NewSigner(prikey)
	}

	log.Printf("no private key found at %s, generating a new one", keyPath)
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	prikey := gethcrypto.FromECDSA(priv)

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(prikey)), 0o600); err != nil {
		return nil, fmt.Errorf("persist private key: %w", err)
	}

	return cryptosign.NewSigner(prikey)
}

func printHelp() {
	fmt.Println("loopcored - a single consensus validator node")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Environment: VALIDATOR_ID, PRIVATE_KEY_PATH, CHANNEL_FILE, CHANNEL_NAME,")
	fmt.Println("             REPS_REST_URL, BLOCK_VOTING_RATIO, LEADER_VOTING_RATIO,")
	fmt.Println("             ROUND_TIMEOUT, METRICS_ADDR, LISTEN_ADDR, LOG_LEVEL")
}
