// Command kernelsim drives the vmcore kernel core outside of any real
// hardware: it can run a synthetic workload against an in-memory or
// file-backed disk pair, or serve a Prometheus /metrics endpoint and
// pprof profiles over HTTP while idle. The serve registry has no
// collectors registered, so /metrics reports no vmcore counters.
// Grounded on biscuit's own cmd-style
// entry points and gcsfuse's cobra/viper CLI wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"

	gpprof "github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/message"

	"vmcore/internal/blockdev"
	"vmcore/internal/defs"
	"vmcore/internal/kernel"
	"vmcore/internal/spt"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernelsim",
		Short: "Drive the vmcore demand-paging and buffer-cache core outside of real hardware",
	}
	root.PersistentFlags().String("config", "", "path to a config file")
	root.PersistentFlags().Int("fs_sectors", 16*1024, "filesystem disk size in sectors")
	root.PersistentFlags().Int("swap_sectors", 8*1024, "swap disk size in sectors")
	root.PersistentFlags().Int("frame_count", 256, "physical frame pool size")
	root.PersistentFlags().Int("reserved_lo", 8, "sectors reserved before the data region")
	root.PersistentFlags().String("fs_file", "", "path to a file-backed filesystem disk (memory-backed if empty)")
	root.PersistentFlags().String("swap_file", "", "path to a file-backed swap disk (memory-backed if empty)")

	root.AddCommand(newRunCmd(), newServeCmd(), newInspectCmd())
	return root
}

func buildKernel(cmd *cobra.Command) (*kernel.Kernel, func(), error) {
	cfg, err := kernel.LoadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	fsPath, _ := cmd.Flags().GetString("fs_file")
	swapPath, _ := cmd.Flags().GetString("swap_file")

	var fsDisk, swapDisk blockdev.Disk
	var closers []func() error

	if fsPath != "" {
		d, err := blockdev.OpenFileDisk(fsPath, defs.BLOCK_FILESYS, cfg.FSSectors)
		if err != nil {
			return nil, nil, err
		}
		fsDisk = d
		closers = append(closers, d.Close)
	} else {
		fsDisk = blockdev.NewMemDisk(defs.BLOCK_FILESYS, cfg.FSSectors)
	}

	if swapPath != "" {
		d, err := blockdev.OpenFileDisk(swapPath, defs.BLOCK_SWAP, cfg.SwapSectors)
		if err != nil {
			return nil, nil, err
		}
		swapDisk = d
		closers = append(closers, d.Close)
	} else {
		swapDisk = blockdev.NewMemDisk(defs.BLOCK_SWAP, cfg.SwapSectors)
	}

	k, err := kernel.New(fsDisk, swapDisk, cfg, fsPath == "")
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		k.Shutdown()
		for _, c := range closers {
			c()
		}
	}
	return k, cleanup, nil
}

func newRunCmd() *cobra.Command {
	var workers int
	var pages int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a synthetic multi-process paging workload and report disk/frame stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, cleanup, err := buildKernel(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			g, ctx := errgroup.WithContext(cmd.Context())
			for w := 0; w < workers; w++ {
				pid := defs.Pid_t(w + 1)
				g.Go(func() error {
					return runWorkload(ctx, k, pid, pages)
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			p := message.NewPrinter(message.MatchLanguage("en"))
			p.Printf("filesystem disk: %s\n", k.FSDisk.Stats())
			p.Printf("swap disk:       %s\n", k.SwapDisk.Stats())
			p.Printf("frame pool:      %d frames\n", k.Frames.Size())
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 4, "number of simulated processes")
	cmd.Flags().IntVar(&pages, "pages", 64, "pages touched per process")
	return cmd
}

// runWorkload touches pages sequentially for one simulated process,
// exercising Add/Fault/ExitProcess the way a real page-fault handler
// loop would be driven by user-mode faults.
func runWorkload(ctx context.Context, k *kernel.Kernel, pid defs.Pid_t, pages int) error {
	t := k.Process(pid)
	stackBase := pages * frameBytes()
	for i := 0; i < pages; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		addr := i * frameBytes()
		if err := t.Add(addr, defs.SEG_DATA, true); err != nil {
			return err
		}
		fi := spt.FaultInfo{Addr: addr, Write: true, ESP: stackBase, StackBase: stackBase}
		if err := t.Fault(fi); err != nil {
			return err
		}
	}
	return k.ExitProcess(pid)
}

func frameBytes() int { return 4096 }

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics and pprof profiles over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			mux.HandleFunc("/debug/pprof/", pprof.Index)
			mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
			mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
			fmt.Fprintf(os.Stderr, "listening on %s\n", addr)
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	return cmd
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <profile.pb.gz>",
		Short: "Summarize a pprof CPU/heap profile captured from a 'serve' run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			prof, err := gpprof.Parse(f)
			if err != nil {
				return err
			}
			fmt.Printf("period: %d %s, samples: %d, sample types: %v\n",
				prof.Period, prof.PeriodType.Type, len(prof.Sample), sampleTypeNames(prof))
			return nil
		},
	}
	return cmd
}

func sampleTypeNames(prof *gpprof.Profile) []string {
	names := make([]string, len(prof.SampleType))
	for i, st := range prof.SampleType {
		names[i] = st.Type
	}
	return names
}
