// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package joinrpc

import (
	"context"
	"net"

	"github.com/btcsuite/go-socks/socks"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DialConfig describes how to reach a coordinator.
type DialConfig struct {
	// Address is the host:port of the coordinator.
	Address string

	// CertFile is the coordinator's TLS certificate. The connection is
	// not encrypted when empty.
	CertFile string

	// Proxy is an optional SOCKS5 proxy, usually Tor, every connection
	// is made through.
	Proxy     string
	ProxyUser string
	ProxyPass string

	// TorIsolation requests a fresh circuit per connection.
	TorIsolation bool
}

// Dial creates a client connection to a coordinator. When a proxy is set,
// the address is resolved by the proxy.
func Dial(cfg *DialConfig, opts ...grpc.DialOption) (*grpc.ClientConn,
	error) {

	creds := insecure.NewCredentials()
	if cfg.CertFile != "" {
		var err error
		creds, err = credentials.NewClientTLSFromFile(cfg.CertFile, "")
		if err != nil {
			return nil, err
		}
	}
	opts = append(opts, grpc.WithTransportCredentials(creds))

	target := cfg.Address
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:         cfg.Proxy,
			Username:     cfg.ProxyUser,
			Password:     cfg.ProxyPass,
			TorIsolation: cfg.TorIsolation,
		}
		opts = append(opts, grpc.WithContextDialer(
			func(_ context.Context, addr string) (net.Conn, error) {
				return proxy.Dial("tcp", addr)
			},
		))
		target = "passthrough:///" + cfg.Address
	}

	return grpc.NewClient(target, opts...)
}
