package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/radio-recorder/internal/catalog"
	"github.com/skypro1111/radio-recorder/internal/config"
	"github.com/skypro1111/radio-recorder/internal/metrics"
	"github.com/skypro1111/radio-recorder/internal/storage"
)

func newListCmd(flags *globalFlags) *cobra.Command {
	var networkFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded transmissions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(flags.envFiles...); err != nil {
				return err
			}

			// Listing only needs the base directory
			cfg, err := config.Load(flags.configPath)
			if err != nil && !errors.Is(err, config.ErrNoNetworks) {
				return err
			}

			layout, err := storage.NewLayout(cfg.BaseDirectory)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			cat := catalog.New(layout, 0, nil, logger, metrics.NewMetrics(prometheus.NewRegistry()))

			networks, err := cat.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return printListing(cmd.OutOrStdout(), networks, networkFilter)
		},
	}

	cmd.Flags().StringVarP(&networkFilter, "network", "n", "", "only list this network")
	return cmd
}

func printListing(out io.Writer, networks []catalog.Network, only string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	printed := 0
	for _, n := range networks {
		if only != "" && n.Name != only {
			continue
		}
		fmt.Fprintf(w, "%s\n", n.Name)
		for _, tg := range n.Talkgroups {
			fmt.Fprintf(w, "  talkgroup %s\n", tg.Name)
			for _, rec := range tg.Recordings {
				fmt.Fprintf(w, "    %s\t%s\t%s\t%s\n",
					rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
					rec.RadioID,
					(time.Duration(rec.Duration*float64(time.Second)) / time.Millisecond * time.Millisecond).String(),
					rec.File,
				)
				printed++
			}
		}
	}

	if printed == 0 {
		fmt.Fprintln(w, "No recordings found")
	}
	return w.Flush()
}
