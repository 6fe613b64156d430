// Command journalctl is the operator client for a regjournal server.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"regjournal/api/grpcserver"
	"regjournal/service"
)

type globals struct {
	addr    string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "journalctl",
		Short:        "Inspect and operate rollback journals",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.addr, "addr", "localhost:50051", "server address")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newListCmd(g),
		newDescribeCmd(g),
		newLockCmd(g, true),
		newLockCmd(g, false),
		newRollbackCmd(g),
		newRegisterCmd(g),
	)
	return root
}

func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, c *grpcserver.Client) error) error {
	conn, err := grpc.NewClient(g.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.addr, err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()
	return fn(ctx, grpcserver.NewClient(conn))
}

func newListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open journals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.run(cmd, func(ctx context.Context, c *grpcserver.Client) error {
				stacks, err := c.ListStacks(ctx)
				if err != nil {
					return err
				}
				printStacks(cmd, stacks)
				return nil
			})
		},
	}
}

func printStacks(cmd *cobra.Command, stacks []service.StackInfo) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tLOCKED\tPARKED")
	for _, s := range stacks {
		fmt.Fprintf(w, "%s\t%d\t%t\t%t\n", s.Name, s.Size, s.Locked, s.Parked)
	}
	_ = w.Flush()
}

func newDescribeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe NAME",
		Short: "Show the entries of a journal, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *grpcserver.Client) error {
				info, err := c.DescribeStack(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "name:   %s\nsize:   %d\nlocked: %t\nparked: %t\n", info.Name, info.Size, info.Locked, info.Parked)
				for i, e := range info.Elements {
					fmt.Fprintf(out, "  %s %s\n", strconv.Itoa(i), e)
				}
				return nil
			})
		},
	}
}

func newLockCmd(g *globals, locked bool) *cobra.Command {
	use, short := "lock NAME", "Suspend rollback of a journal"
	if !locked {
		use, short = "unlock NAME", "Allow rollback of a journal again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *grpcserver.Client) error {
				return c.SetLocked(ctx, args[0], locked)
			})
		},
	}
}

func newRollbackCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback NAME",
		Short: "Roll back a parked journal and delete it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, c *grpcserver.Client) error {
				if err := c.RollbackStack(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", args[0])
				return nil
			})
		},
	}
}

func newRegisterCmd(g *globals) *cobra.Command {
	var req service.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register PATH",
		Short: "Register an incoming file as a data set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.IncomingPath = args[0]
			return g.run(cmd, func(ctx context.Context, c *grpcserver.Client) error {
				res, err := c.RegisterDataSet(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s at %s (event %s)\n", res.Code, res.Location, res.EventID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Code, "code", "", "data set code (generated when empty)")
	cmd.Flags().StringVar(&req.Kind, "kind", "", "data set kind")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "owning lab or user")
	return cmd
}
