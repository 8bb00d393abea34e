// Command httpd is the reference HTTP/2 server/client driver described in
// SPEC_FULL.md §6 (CLI) and §4.6 (client driver). It is intentionally thin:
// process bootstrap, CLI parsing, and TLS credential loading are treated as
// external collaborators by the core engine in package h2 (SPEC_FULL.md §1),
// and this file is where they're actually supplied.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/felixge/fgprof"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/yurai007/http2engine/h2"
)

const demoDocRoot = "/tmp"

type config struct {
	node  string
	port  uint16
	tls   bool
	con   uint16
	req   uint16
	debug bool
}

func parseFlags() config {
	var c config
	pflag.StringVarP(&c.node, "node", "n", "server", "node role: server or client")
	pflag.Uint16Var(&c.port, "port", 3000, "HTTP/2 port")
	pflag.BoolVarP(&c.tls, "tls", "t", false, "TLS enabled")
	pflag.Uint16Var(&c.con, "con", 500, "client connections")
	pflag.Uint16VarP(&c.req, "req", "r", 4000, "requests per client connection")
	pflag.BoolVarP(&c.debug, "debug", "d", false, "debugging info from handlers")
	pflag.Parse()
	return c
}

func main() {
	cfg := parseFlags()

	logLevel := zerolog.InfoLevel
	if cfg.debug {
		logLevel = zerolog.DebugLevel
		go serveProfiles()
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(logLevel).With().Timestamp().Logger()

	var err error
	if cfg.node == "server" {
		err = runServer(cfg, log)
	} else {
		err = runClient(cfg, log)
	}
	if err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

// serveProfiles exposes an fgprof profile endpoint while --debug is set,
// giving that flag an operational effect beyond verbose logging
// (SPEC_FULL.md's AMBIENT STACK note on felixge/fgprof).
func serveProfiles() {
	mux := http.NewServeMux()
	mux.Handle("/debug/fgprof", fgprof.Handler())
	_ = http.ListenAndServe("127.0.0.1:6060", mux)
}

// demoRoutes wires up the routes exercised by SPEC_FULL.md §8's
// end-to-end scenarios: "/", "/get", the "/push" push pair, and a
// directory handler rooted at demoDocRoot.
func demoRoutes(cfg config, log zerolog.Logger) *h2.Routes {
	routes := h2.NewRoutes().WithLogger(log)

	routes.Add("/", func(req *h2.Request, resp *h2.Response) (*h2.Request, *h2.Response, error) {
		if cfg.debug {
			log.Debug().Str("method", req.Method).Str("path", req.Path).Msg("handle /")
		}
		resp.Body = []byte("handle /\n")
		return req, resp, nil
	})

	routes.Add("/get", func(req *h2.Request, resp *h2.Response) (*h2.Request, *h2.Response, error) {
		if cfg.debug {
			log.Debug().Str("method", req.Method).Str("path", req.Path).Msg("handle /get")
		}
		resp.Body = []byte("hello!")
		return req, resp, nil
	})

	routes.AddDirectoryHandler(h2.NewDirectoryHandler(demoDocRoot).WithLogger(log))

	routes.AddOnPush("/push",
		func(req *h2.Request, resp *h2.Response) (*h2.Request, *h2.Response, error) {
			resp.AddHeaders(
				[2]string{":method", "GET"},
				[2]string{":scheme", "http"},
				[2]string{":authority", "localhost:3000"},
				[2]string{":path", "/push/1"},
			)
			resp.Body = []byte("GET REP BODY\n")
			if cfg.debug {
				log.Debug().Msg("push 1")
			}
			return req, resp, nil
		},
		func(req *h2.Request, resp *h2.Response) (*h2.Request, *h2.Response, error) {
			resp.Body = []byte("PUSH REP BODYPUSH REP BODYPUSH REP BODYPUSH REP BODYPUSH REP BODYPUSH REP BODYPUSH REP BODY\n")
			if cfg.debug {
				log.Debug().Msg("push 2")
			}
			return req, resp, nil
		},
	)

	return routes
}

func runServer(cfg config, log zerolog.Logger) error {
	routes := demoRoutes(cfg, log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.port))
	if err != nil {
		return err
	}
	defer ln.Close()

	log.Info().Uint16("port", cfg.port).Bool("tls", cfg.tls).Msg("HTTP/2 server listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, cfg, routes, log)
	}
}

func serveConn(rawConn net.Conn, cfg config, routes *h2.Routes, log zerolog.Logger) {
	defer rawConn.Close()

	conn := rawConn
	if cfg.tls {
		tlsConn := tls.Server(rawConn, serverTLSConfig())
		if err := tlsConn.Handshake(); err != nil {
			log.Warn().Err(err).Msg("tls handshake failed")
			return
		}
		conn = tlsConn
	}

	h := h2.NewConnection(h2.RoleServer, conn, routes, log)
	if err := h.Process(); err != nil {
		log.Warn().Err(err).Msg("connection ended with error")
	}
}

// serverTLSConfig is a placeholder: TLS credential loading is explicitly
// out of scope for the core engine (SPEC_FULL.md §1) — a real deployment
// supplies its own certificate here.
func serverTLSConfig() *tls.Config {
	return &tls.Config{NextProtos: []string{"h2"}}
}

func runClient(cfg config, log zerolog.Logger) error {
	ctx := context.Background()
	routes := h2.NewRoutes()
	client := h2.NewHTTPClient(routes, log)

	var tlsConfig *tls.Config
	if cfg.tls {
		tlsConfig = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)
	if err := client.Connect(ctx, int(cfg.con), addr, tlsConfig); err != nil {
		return err
	}
	log.Info().Msg("established tcp connections")

	req := h2.NewRequest(
		[2]string{":method", "GET"},
		[2]string{":path", "/get"},
		[2]string{":scheme", "https"},
		[2]string{":authority", addr},
		[2]string{"accept", "*/*"},
		[2]string{"user-agent", "http2engine"},
	)

	started := time.Now()
	if err := client.Run(ctx, req, int(cfg.req)); err != nil {
		return err
	}
	elapsed := time.Since(started)

	reqPerSec, avgRespTime := client.Throughput(elapsed)
	fmt.Printf("Total responses: %d\n", client.Responses())
	fmt.Printf("Req/s: %.2f\n", reqPerSec)
	fmt.Printf("Avg resp time: %.2f us\n", float64(avgRespTime.Microseconds()))
	if failed := client.FailedRequests(); failed > 0 {
		fmt.Printf("Failed submissions: %d\n", failed)
	}
	return nil
}
