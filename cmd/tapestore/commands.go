package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/downfa11-org/tapestore/pkg/config"
	"github.com/downfa11-org/tapestore/pkg/metrics"
	"github.com/downfa11-org/tapestore/pkg/segment"
	"github.com/downfa11-org/tapestore/pkg/types"
	"github.com/downfa11-org/tapestore/util"
	"github.com/spf13/cobra"
	"golang.org/x/exp/mmap"
)

func newAppendCmd(gf *globalFlags) *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "append <stream> [data]",
		Short: "Append one record to a stream (reads stdin when data is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				data = b
			}

			return withStore(gf, func(s types.AppendOnlyStore) error {
				if err := s.Append(args[0], data, expected); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ %s appended, store version %d\n", args[0], s.GetCurrentVersion())
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", types.AnyVersion, "expected stream version, -1 to skip the check")
	return cmd
}

func newReadCmd(gf *globalFlags) *cobra.Command {
	var (
		after    int64
		maxCount int
	)
	cmd := &cobra.Command{
		Use:   "read [stream]",
		Short: "Read records of one stream, or of the whole store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(gf, func(s types.AppendOnlyStore) error {
				var (
					recs []types.DataWithKey
					err  error
				)
				if len(args) == 1 {
					recs, err = s.ReadRecords(args[0], after, maxCount)
				} else {
					recs, err = s.ReadAllRecords(after, maxCount)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range recs {
					fmt.Fprintf(out, "%d\t%s\t%d\t%s\n", r.StoreVersion, r.Key, r.StreamVersion, r.Data)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only records after this version")
	cmd.Flags().IntVar(&maxCount, "max", math.MaxInt32, "maximum number of records")
	return cmd
}

func newVersionCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current store version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(gf, func(s types.AppendOnlyStore) error {
				fmt.Fprintln(cmd.OutOrStdout(), s.GetCurrentVersion())
				return nil
			})
		},
	}
}

func newResetCmd(gf *globalFlags) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all data of store %s; pass --yes to confirm", gf.store)
			}
			return withStore(gf, func(s types.AppendOnlyStore) error {
				if err := s.ResetStore(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🧹 store %s reset\n", gf.store)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// newInspectCmd dumps the frames of a single segment file without opening a store.
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <segment>",
		Short: "Decode the frames of a segment file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := mmap.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			res := segment.Scan(io.NewSectionReader(r, 0, int64(r.Len())))
			out := cmd.OutOrStdout()
			for i, f := range res.Frames {
				fmt.Fprintf(out, "%d\t%s\t%d\t%d bytes\n", i, f.Name, f.Stamp, len(f.Payload))
			}

			fmt.Fprintf(out, "segment %s: %d frames, %d/%d bytes valid, stopped at %s\n",
				filepath.Base(args[0]), len(res.Frames), res.LastValid, r.Len(), res.Stopped)
			if res.Err != nil {
				fmt.Fprintf(out, "error: %v\n", res.Err)
			}
			if segment.NeedsTruncate(int64(r.Len()), res.LastValid, segment.SectorSize) {
				fmt.Fprintf(out, "tail would be truncated to %d bytes on next open\n", segment.TruncateOffset(res.LastValid))
			}
			return nil
		},
	}
}

func newServeCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Open the store and keep it open until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gf.loadConfig()
			if err != nil {
				return err
			}
			s, release, err := openStore(cfg, gf.store)
			if err != nil {
				return err
			}
			defer release()

			if cfg.EnableExporter {
				metrics.StartMetricsServer(cfg.ExporterPort)
			}
			util.Info("🚀 store %s (%s) ready at version %d", gf.store, cfg.Backend, s.GetCurrentVersion())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig
			util.Info("shutting down store %s", gf.store)
			return nil
		},
	}
}

func withStore(gf *globalFlags, fn func(types.AppendOnlyStore) error) error {
	cfg, err := gf.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Backend == config.BackendMemory {
		util.Warn("memory backend keeps nothing once the command exits")
	}
	s, release, err := openStore(cfg, gf.store)
	if err != nil {
		return err
	}
	defer release()
	return fn(s)
}
