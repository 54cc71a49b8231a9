// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/banlist"
	"github.com/btcsuite/btcjoin/chain"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/btcsuite/btcjoin/internal/cfgutil"
	"github.com/btcsuite/btcjoin/rpc/rpcserver"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const dbTimeout = 60 * time.Second

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := joinMain(); err != nil {
		os.Exit(1)
	}
}

// joinMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func joinMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	ctx, cancel := interruptContext()
	defer cancel()

	netDir := networkDir(cfg.DataDir, activeNet)
	if err := os.MkdirAll(netDir, 0700); err != nil {
		log.Errorf("Unable to create data directory: %v", err)
		return err
	}

	db, err := openDB(filepath.Join(netDir, coordinatorDBName))
	if err != nil {
		log.Errorf("Unable to open database: %v", err)
		return err
	}
	defer db.Close()

	bans, err := banlist.New(db, banlist.Config{
		BanDuration: cfg.BanDuration,
	})
	if err != nil {
		log.Errorf("Unable to open ban list: %v", err)
		return err
	}

	coinJoins, err := coordinator.OpenCoinJoinLog(
		filepath.Join(netDir, coinJoinLogName),
	)
	if err != nil {
		log.Errorf("Unable to open coinjoin log: %v", err)
		return err
	}
	defer coinJoins.Close()

	backend, err := newNodeBackend()
	if err != nil {
		log.Errorf("Cannot create node RPC client: %v", err)
		return err
	}
	defer backend.Stop()

	// The watcher reports every new mempool transaction to the
	// coordinator, which in turn asks the watcher for the mempool when it
	// looks for its own coinjoins.
	var coord *coordinator.Coordinator
	watcher := chain.NewMempoolWatcher(
		backend, ticker.New(cfg.MempoolPoll), func(tx *wire.MsgTx) {
			if err := coord.ProcessTransaction(tx); err != nil {
				log.Errorf("Unable to process transaction "+
					"%v: %v", tx.TxHash(), err)
			}
		},
	)
	coord, err = coordinator.New(coordinator.Config{
		Round:       cfg.roundConfig(),
		DB:          db,
		BanList:     bans,
		Backend:     backend,
		Mempool:     watcher,
		CoinJoins:   coinJoins,
		ChainParams: activeNet.Params,
		Ticker:      ticker.New(cfg.TickInterval),
	})
	if err != nil {
		log.Errorf("Unable to create coordinator: %v", err)
		return err
	}
	if err := coord.Start(); err != nil {
		log.Errorf("Unable to start coordinator: %v", err)
		return err
	}
	defer coord.Stop()

	if err := watcher.Start(); err != nil {
		log.Errorf("Unable to poll the node's mempool: %v", err)
		return err
	}
	defer watcher.Stop()

	server, listeners, err := newGRPCServer()
	if err != nil {
		log.Errorf("Unable to create gRPC server: %v", err)
		return err
	}
	rpcserver.StartCoordinatorService(server, coord, activeNet.Params)

	g, gctx := errgroup.WithContext(ctx)
	for _, lis := range listeners {
		lis := lis
		g.Go(func() error {
			log.Infof("Coordinator gRPC server listening on %s",
				lis.Addr())
			return server.Serve(lis)
		})
	}
	log.Infof("Serving on %d %s", len(listeners),
		pickNoun(len(listeners), "listener", "listeners"))

	var metrics *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Infof("Metrics server listening on %s",
				cfg.MetricsListen)
			err := metrics.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		server.GracefulStop()
		if metrics != nil {
			return metrics.Shutdown(context.Background())
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		log.Errorf("Server failed: %v", err)
	}
	log.Info("Shutdown complete")
	return err
}

// openDB opens the coordinator database at dbPath, creating it if it does
// not exist yet.
func openDB(dbPath string) (walletdb.DB, error) {
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Infof("Creating coordinator database %s", dbPath)
		return walletdb.Create("bdb", dbPath, true, dbTimeout, false)
	}
	return walletdb.Open("bdb", dbPath, true, dbTimeout, false)
}

// newNodeBackend creates the RPC client of the bitcoind node.
func newNodeBackend() (*chain.RPCBackend, error) {
	var certs []byte
	if !cfg.NodeNoTLS {
		var err error
		certs, err = cfgutil.ReadFileIfExists(cfg.NodeCAFile)
		if err != nil {
			return nil, err
		}
		if certs == nil {
			log.Warnf("Node CA file %s does not exist, using "+
				"system roots", cfg.NodeCAFile)
		}
	} else {
		log.Info("Node TLS is disabled")
	}

	return chain.NewRPCBackend(&chain.RPCConfig{
		Host:       cfg.NodeConnect,
		User:       cfg.NodeUser,
		Pass:       cfg.NodePass,
		DisableTLS: cfg.NodeNoTLS,
		Cert:       certs,
	})
}

// newGRPCServer creates the gRPC server and binds all configured listeners.
// A self-signed certificate is generated when TLS is enabled and neither the
// certificate nor the key exists.
func newGRPCServer() (*grpc.Server, []net.Listener, error) {
	var opts []grpc.ServerOption
	if !cfg.NoServerTLS {
		certExists, err := cfgutil.FileExists(cfg.RPCCert)
		if err != nil {
			return nil, nil, err
		}
		keyExists, err := cfgutil.FileExists(cfg.RPCKey)
		if err != nil {
			return nil, nil, err
		}
		if !certExists && !keyExists {
			err := genCertPair(cfg.RPCCert, cfg.RPCKey)
			if err != nil {
				return nil, nil, err
			}
		}

		creds, err := credentials.NewServerTLSFromFile(
			cfg.RPCCert, cfg.RPCKey,
		)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		log.Warn("Server TLS is disabled")
	}

	listeners := make([]net.Listener, 0, len(cfg.RPCListeners))
	for _, addr := range cfg.RPCListeners {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, lis)
	}
	if len(listeners) == 0 {
		return nil, nil, errors.New("no valid listen address")
	}

	return grpc.NewServer(opts...), listeners, nil
}

// genCertPair generates a key/cert pair to the paths provided.
func genCertPair(certFile, keyFile string) error {
	log.Infof("Generating TLS certificates...")

	// Create directories for cert and key files if they do not yet exist.
	certDir, _ := filepath.Split(certFile)
	keyDir, _ := filepath.Split(keyFile)
	if err := os.MkdirAll(certDir, 0700); err != nil {
		return err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return err
	}

	// Generate cert pair.
	org := "btcjoind autogenerated cert"
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := btcutil.NewTLSCertPair(org, validUntil, nil)
	if err != nil {
		return err
	}

	// Write cert and key files.
	if err = os.WriteFile(certFile, cert, 0666); err != nil {
		return err
	}
	if err = os.WriteFile(keyFile, key, 0600); err != nil {
		os.Remove(certFile)
		return err
	}

	log.Infof("Done generating TLS certificates")
	return nil
}
