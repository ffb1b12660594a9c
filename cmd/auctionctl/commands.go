package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"koi-auction/internal/app"
	"koi-auction/internal/config"
	"koi-auction/internal/domain"
	"koi-auction/internal/saga"
	"koi-auction/internal/services"
	"koi-auction/pkg/logger"
)

type options struct {
	configPath string
	actor      string
	asJSON     bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "auctionctl",
		Short:         "Operate the koi auction admin gateway",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: config.yaml search path)")
	root.PersistentFlags().StringVar(&opts.actor, "actor", "auctionctl", "user id that receives the result toast")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall command timeout")

	root.AddCommand(
		auctionCmd(opts, "cancel", "Cancel an auction and return its koi to AUCTION", (*services.AuctionFlows).CancelAuction),
		auctionCmd(opts, "delete", "Delete an auction and return its koi to AUCTION", (*services.AuctionFlows).DeleteAuction),
		auctionCmd(opts, "publish", "Publish a draft auction", (*services.AuctionFlows).PublishAuction),
		auctionCmd(opts, "verify-winner", "Verify the winner of a completed auction", (*services.AuctionFlows).VerifyWinner),
		koiStatusCmd(opts),
		sagasCmd(opts),
		repairCmd(opts),
	)
	return root
}

type auctionFlow func(f *services.AuctionFlows, ctx context.Context, actor, auctionID string) (*services.Result, error)

func auctionCmd(opts *options, use, short string, flow auctionFlow) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <auction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, opts, func(ctx context.Context, gw *app.Gateway) error {
				res, err := flow(gw.Flows, ctx, opts.actor, args[0])
				return printResult(cmd.OutOrStdout(), opts.asJSON, res, err)
			})
		},
	}
}

func koiStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "koi-status <koi-id> <status>",
		Short: "Set a koi's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(cmd, opts, func(ctx context.Context, gw *app.Gateway) error {
				res, err := gw.Flows.UpdateKoiStatus(ctx, opts.actor, args[0], domain.KoiStatus(args[1]))
				return printResult(cmd.OutOrStdout(), opts.asJSON, res, err)
			})
		},
	}
}

func sagasCmd(opts *options) *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "sagas",
		Short: "List saga runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state != "" && !saga.State(state).Valid() {
				return fmt.Errorf("unknown saga state %q", state)
			}
			return withGateway(cmd, opts, func(ctx context.Context, gw *app.Gateway) error {
				runs, err := gw.SagaLog.ListRuns(ctx, saga.State(state), limit)
				if err != nil {
					return err
				}
				return printRuns(cmd.OutOrStdout(), opts.asJSON, runs)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", string(saga.StateCompensationFailed), "filter by state; empty lists every run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func repairCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Replay failed compensations once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, opts, func(ctx context.Context, gw *app.Gateway) error {
				report, err := gw.Repair.RunOnce(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.asJSON {
					return json.NewEncoder(out).Encode(report)
				}
				fmt.Fprintf(out, "scanned %d, repaired %d, still failing %d, abandoned %d\n",
					report.Scanned, len(report.Repaired), len(report.Failed), len(report.Abandoned))
				return nil
			})
		},
	}
}

func withGateway(cmd *cobra.Command, opts *options, fn func(context.Context, *app.Gateway) error) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	log := logger.NewWithLevel(cfg.Log.Level)

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	gw, err := app.NewGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	return fn(ctx, gw)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func printResult(w io.Writer, asJSON bool, res *services.Result, err error) error {
	if res == nil {
		return err
	}
	if asJSON {
		if encErr := json.NewEncoder(w).Encode(res); encErr != nil {
			return encErr
		}
		return err
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", res.MutationID, res.Outcome, res.Message)
	if res.SagaID != "" {
		fmt.Fprintf(w, "saga %s\n", res.SagaID)
	}
	return err
}

func printRuns(w io.Writer, asJSON bool, runs []*saga.Run) error {
	if asJSON {
		if runs == nil {
			runs = []*saga.Run{}
		}
		return json.NewEncoder(w).Encode(runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tFAILED STEP\tATTEMPTS\tUPDATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Name, r.State, r.FailedStep, r.Attempts, r.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
