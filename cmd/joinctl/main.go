// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// joinctl inspects a running coordinator over gRPC and edits the ban list of
// a stopped one.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/banlist"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/btcsuite/btcjoin/netparams"
	"github.com/btcsuite/btcjoin/rpc/joinrpc"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	flags "github.com/jessevdk/go-flags"
)

const dbTimeout = 5 * time.Second

var (
	btcjoindHomeDir = btcutil.AppDataDir("btcjoind", false)
	newlineBytes    = []byte{'\n'}
)

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Stderr.Write(newlineBytes)
	os.Exit(1)
}

// Flags.
var opts = struct {
	TestNet3    bool          `long:"testnet" description:"Use the test bitcoin network (version 3)"`
	SigNet      bool          `long:"signet" description:"Use the signet test network"`
	RegTest     bool          `long:"regtest" description:"Use the regression test network"`
	SimNet      bool          `long:"simnet" description:"Use the simulation bitcoin network"`
	RPCConnect  string        `short:"c" long:"rpcconnect" description:"Hostname[:port] of the coordinator gRPC server"`
	RPCCert     string        `long:"rpccert" description:"Coordinator TLS certificate"`
	NoTLS       bool          `long:"notls" description:"Connect without TLS"`
	Proxy       string        `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	DataDir     string        `short:"b" long:"datadir" description:"Data directory of the coordinator"`
	BanDuration time.Duration `long:"banduration" description:"Ban length per level of severity the coordinator runs with"`
}{
	RPCConnect:  "localhost",
	RPCCert:     filepath.Join(btcjoindHomeDir, "rpc.cert"),
	DataDir:     btcjoindHomeDir,
	BanDuration: banlist.DefaultBanDuration,
}

func activeNet() *netparams.Params {
	switch {
	case opts.TestNet3:
		return &netparams.TestNet3Params
	case opts.SigNet:
		return &netparams.SigNetParams
	case opts.RegTest:
		return &netparams.RegressionNetParams
	case opts.SimNet:
		return &netparams.SimNetParams
	default:
		return &netparams.MainNetParams
	}
}

// openBanList opens the ban list of the coordinator's database. The database
// is locked while the coordinator runs.
func openBanList() (*banlist.BanList, func(), error) {
	params := activeNet()
	netname := params.Name
	if params.Net == netparams.TestNet3Params.Net {
		netname = "testnet"
	}
	dbPath := filepath.Join(opts.DataDir, netname, "coordinator.db")

	db, err := walletdb.Open("bdb", dbPath, true, dbTimeout, false)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	bans, err := banlist.New(db, banlist.Config{
		BanDuration: opts.BanDuration,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return bans, func() { db.Close() }, nil
}

type statusCommand struct{}

func (*statusCommand) Execute(_ []string) error {
	params := activeNet()
	addr := opts.RPCConnect
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, params.CoordinatorPort)
	}

	dialCfg := &joinrpc.DialConfig{
		Address: addr,
		Proxy:   opts.Proxy,
	}
	if !opts.NoTLS {
		dialCfg.CertFile = opts.RPCCert
	}
	conn, err := joinrpc.Dial(dialCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := joinrpc.NewCoordinatorClient(conn)
	resp, err := client.Status(ctx, &joinrpc.StatusRequest{})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROUND\tPHASE\tDENOMINATION\tALICES\tFEE/IN\tFEE/OUT\tCONF")
	for _, r := range resp.Rounds {
		fmt.Fprintf(w, "%d\t%v\t%v\t%d/%d\t%v\t%v\t%d\n", r.RoundID,
			r.Phase, btcutil.Amount(r.Denomination),
			r.RegisteredAlices, r.AnonymitySet,
			btcutil.Amount(r.FeePerInput),
			btcutil.Amount(r.FeePerOutput), r.ConfirmationTarget)
	}
	if len(resp.Rounds) > 0 {
		fmt.Fprintf(w, "\n%d successful rounds\n",
			resp.Rounds[0].SuccessfulRoundCount)
	}
	return w.Flush()
}

type bansCommand struct {
	All bool `short:"a" long:"all" description:"Include noted and expired entries"`
}

func (c *bansCommand) Execute(_ []string) error {
	bans, closeDB, err := openBanList()
	if err != nil {
		return err
	}
	defer closeDB()

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OUTPOINT\tSEVERITY\tROUND\tNOTED\tUNTIL")
	err = bans.ForEach(func(e *banlist.Entry) error {
		if !c.All && !e.IsActive(now, opts.BanDuration) {
			return nil
		}
		until := e.BannedUntil(opts.BanDuration)
		_, err := fmt.Fprintf(w, "%v\t%d\t%d\t%v\t%s\n", e.OutPoint,
			e.Severity, e.RoundID, e.Noted,
			until.Format(time.RFC3339))
		return err
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

type unbanCommand struct {
	Args struct {
		OutPoints []string `positional-arg-name:"txid:index" required:"1"`
	} `positional-args:"yes"`
}

func (c *unbanCommand) Execute(_ []string) error {
	ops := make([]wire.OutPoint, 0, len(c.Args.OutPoints))
	for _, s := range c.Args.OutPoints {
		op, err := coinjoin.ParseOutPoint(s)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}

	bans, closeDB, err := openBanList()
	if err != nil {
		return err
	}
	defer closeDB()

	for _, op := range ops {
		if err := bans.Unban(op); err != nil {
			return err
		}
		fmt.Println("Unbanned", op)
	}
	return nil
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	_, err := parser.AddCommand("status", "Show the active rounds",
		"Query the round status of a running coordinator.",
		&statusCommand{})
	if err != nil {
		fatalf("%v", err)
	}
	_, err = parser.AddCommand("bans", "List banned outputs",
		"List the ban list of a stopped coordinator.", &bansCommand{})
	if err != nil {
		fatalf("%v", err)
	}
	_, err = parser.AddCommand("unban", "Remove outputs from the ban list",
		"Remove entries from the ban list of a stopped coordinator.",
		&unbanCommand{})
	if err != nil {
		fatalf("%v", err)
	}

	if _, err := parser.Parse(); err != nil {
		// The parser already printed the error.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
