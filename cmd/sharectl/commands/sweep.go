package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhiyuan411/public-share/internal/service"
)

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep",
		Long: `Reclaim expired text, images and files and delete posts left without content,
using the current settings. The server runs the same sweep before every request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cfg, log, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			engine := service.NewEngine(rt.Store, rt.Blobs, rt.Settings, log,
				service.WithImageVerification(cfg.Upload.VerifyImages),
			)

			start := time.Now()
			report, err := engine.Sweep(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return opts.printJSON(out, report)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "texts cleared\t%d\n", report.TextsCleared)
			fmt.Fprintf(w, "images deleted\t%d\n", report.ImagesDeleted)
			fmt.Fprintf(w, "files deleted\t%d\n", report.FilesDeleted)
			fmt.Fprintf(w, "empty posts deleted\t%d\n", report.OrphansDeleted)
			fmt.Fprintf(w, "blob failures\t%d\n", report.BlobFailures)
			fmt.Fprintf(w, "duration\t%s\n", time.Since(start).Round(time.Millisecond))
			return w.Flush()
		},
	}
}
