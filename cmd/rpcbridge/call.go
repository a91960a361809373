package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"rpcbridge/client"
	"rpcbridge/codec"
	"rpcbridge/discovery"
	"rpcbridge/loadbalance"
	"rpcbridge/transport"
)

// dial connects a client to the configured endpoint, or to one picked from etcd when etcd is
// configured and --url was not given.
func dial(ctx context.Context) (*client.Client, func(), error) {
	ct, err := codec.ParseCodecType(cfg.Client.Codec)
	if err != nil {
		return nil, nil, err
	}
	opts := transport.DialOptions{
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		PingInterval:     cfg.Server.PingInterval,
		Heartbeat:        cfg.Server.Heartbeat,
	}

	var d transport.Dialer
	cleanup := func() {}
	if urlFlag == "" && len(cfg.Etcd.Endpoints) > 0 {
		reg, err := discovery.NewEtcdRegistry(cfg.Etcd.Endpoints, logger)
		if err != nil {
			return nil, nil, err
		}
		host, _ := os.Hostname()
		b, err := loadbalance.New(cfg.Client.Balancer, host)
		if err != nil {
			_ = reg.Close()
			return nil, nil, err
		}
		dd := &client.DiscoveryDialer{Registry: reg, Balancer: b, Name: cfg.Etcd.Name, Options: opts}
		watchCtx, stopWatch := context.WithCancel(ctx)
		dd.Watch(watchCtx)
		d = dd
		cleanup = func() {
			stopWatch()
			_ = reg.Close()
		}
	} else {
		d, err = transport.NewDialer(cfg.Client.URL, opts)
		if err != nil {
			return nil, nil, err
		}
	}

	c := client.New(d, client.WithLogger(logger.Named("client")), client.WithCodec(ct))
	if err := c.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, func() {
		_ = c.Disconnect()
		cleanup()
	}, nil
}

func parseArgs(args []string) (json.RawMessage, error) {
	if len(args) < 2 {
		return json.RawMessage(`{}`), nil
	}
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", args[1])
	}
	return raw, nil
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "call METHOD [JSON]",
		Short:   "Make a unary call and print the reply",
		Example: `  rpcbridge call SayHello '{"name":"World"}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseArgs(args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.CallTimeout)
			defer cancel()

			c, closeFn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var reply json.RawMessage
			if err := c.Call(ctx, args[0], payload, &reply); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(reply))
			return nil
		},
	}
}

func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "stream METHOD [JSON]",
		Short:   "Start a streaming call and print each item until the stream ends",
		Example: `  rpcbridge stream StreamMessages '{"message":"hi","count":3}'`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseArgs(args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			c, closeFn, err := dial(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			out := cmd.OutOrStdout()
			done := make(chan error, 1)
			cancel, err := c.Stream(args[0], payload, client.StreamHandler{
				OnChunk: func(p json.RawMessage) { fmt.Fprintln(out, string(p)) },
				OnError: func(err error) { done <- err },
				OnEnd:   func() { done <- nil },
			})
			if err != nil {
				return err
			}
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				cancel()
				return ctx.Err()
			}
		},
	}
}
