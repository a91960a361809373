package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rpcbridge/discovery"
)

func endpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "List bridge endpoints announced in etcd",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.Etcd.Endpoints) == 0 {
				return errors.New("etcd.endpoints is not configured")
			}
			reg, err := discovery.NewEtcdRegistry(cfg.Etcd.Endpoints, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.CallTimeout)
			defer cancel()
			instances, err := reg.Discover(ctx, cfg.Etcd.Name)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ENDPOINT\tWEIGHT\tVERSION")
			for _, in := range instances {
				fmt.Fprintf(w, "%s\t%d\t%s\n", in.Endpoint, in.Weight, in.Version)
			}
			return w.Flush()
		},
	}
}
