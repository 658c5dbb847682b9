package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mel2oo/go-reseq/capture"
	"github.com/mel2oo/go-reseq/dispatch"
	"github.com/mel2oo/go-reseq/dissect"
)

var (
	verbose bool
	raw     bool
)

var rootCmd = &cobra.Command{
	Use:   "conversations <capture>[:::offset] ...",
	Short: "Replay pcap files as reassembled TCP conversations",
	Long: `Reads one or more capture files, reconstructs every TCP conversation
from out-of-order and retransmitted frames, and prints each data burst in
the order the endpoints saw it. Dropped packets show up as gaps.`,
	Args: cobra.MinimumNArgs(1),
	RunE: run,

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log resequencer diagnostics")
	rootCmd.Flags().BoolVar(&raw, "raw", false, "hexdump raw bursts instead of dissecting")
}

func run(cmd *cobra.Command, args []string) error {
	log := zap.NewNop()
	if verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	d, err := dispatch.New(args, dispatch.WithLogger(log))
	if err != nil {
		return err
	}
	defer d.Close()

	table := dissect.NewTable(dissect.NewCodec("Raw", nil), log)
	defer table.Close()

	for {
		conv, err := d.Next(ctx)
		if errors.Is(err, capture.ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}

		if raw {
			em := conv.Emission
			fmt.Printf("== flow %08x %s: %d bytes (%d missing)\n",
				uint32(conv.Key), em.Dir, em.Data.Len(), em.Data.GapLen())
			em.Data.HexDump(os.Stdout)
			continue
		}
		if err := table.Handle(conv); err != nil {
			log.Warn("dissect failed", zap.Error(err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
