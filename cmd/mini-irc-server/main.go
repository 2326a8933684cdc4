// Command mini-irc-server runs the chat server.
//
//	mini-irc-server --addr 127.0.0.1 --port 8888
//
// With --registry-endpoints the server publishes itself in etcd so clients
// can discover it. Exit is via SIGINT/SIGTERM, followed by a graceful
// shutdown of live connections.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"mini-irc/middleware"
	"mini-irc/registry"
	"mini-irc/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "mini-irc-server",
		Usage: "IRC-style chat server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1",
				Usage: "address to bind to",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 8888,
				Usage: "port to bind to",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "suppress logging output",
			},
			&cli.StringSliceFlag{
				Name:  "registry-endpoints",
				Usage: "etcd endpoints to publish this server in",
			},
			&cli.StringFlag{
				Name:  "advertise-addr",
				Usage: "address clients should dial (defaults to the bound address)",
			},
			&cli.FloatFlag{
				Name:  "rate-limit",
				Usage: "max inbound frames per second across all connections (0 = unlimited)",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if cmd.Bool("quiet") {
		log = log.Level(zerolog.ErrorLevel)
	}

	opts := []server.Option{server.WithLogger(log)}
	if endpoints := cmd.StringSlice("registry-endpoints"); len(endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(endpoints)
		if err != nil {
			return fmt.Errorf("connect registry: %w", err)
		}
		defer reg.Close()
		opts = append(opts, server.WithRegistry(reg, cmd.String("advertise-addr")))
	}

	s := server.New(opts...)
	s.Use(middleware.Logging(log))
	if limit := cmd.Float("rate-limit"); limit > 0 {
		s.Use(middleware.RateLimit(limit, int(limit)))
	}

	addr := net.JoinHostPort(cmd.String("addr"), strconv.Itoa(int(cmd.Int("port"))))
	if err := s.Listen("tcp", addr); err != nil {
		return err
	}
	if !cmd.Bool("quiet") {
		fmt.Printf("Serving on %s\n", s.Addr())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
	}

	if err := s.Shutdown(shutdownTimeout); err != nil {
		return err
	}
	if !cmd.Bool("quiet") {
		fmt.Println("Gracefully shutdown")
	}
	return nil
}
