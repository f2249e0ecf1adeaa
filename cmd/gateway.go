package cmd

import (
	"fmt"

	"homevoice/pkg/gateway"

	"github.com/spf13/cobra"
)

var botCmd = &cobra.Command{
	Use:     "bot",
	Aliases: []string{"gateway"},
	Short:   "Run the ingestion side: chat channels and the HTTP API",
	Long:    "Runs the enabled chat channels and the HTTP ingestion API. Commands are staged in the cache and published to the command queue for the stt worker.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := setup("cmd.bot", false)
		if err != nil {
			fmt.Println(err)
			return
		}

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return
		}

		runCtx, stop := signalContext()
		defer stop()

		p, err := openPipeline(runCtx, cfg, log)
		if err != nil {
			log.Error("Failed to open pipeline", "error", err)
			return
		}
		defer p.Close()

		if !p.distributed() {
			log.Warn("Memory broker only reaches this process; commands wait until a worker runs here (use \"run\" instead)")
		}

		svc, err := gateway.NewService(cfg.Gateway, p.newIngest(), adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		if cfg.Gateway.NotifyErrors {
			tracker := p.newTracker("", cfg.Queues.Error)
			tracker.Listen(svc.NotifyFailure)
			go func() {
				if err := tracker.Run(runCtx); !quiet(err) {
					log.Error("Error queue consumer stopped", "error", err)
				}
			}()
		}
		p.observe(runCtx)

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "queue", cfg.Queues.Command, "notify_errors", cfg.Gateway.NotifyErrors)
		if err := svc.Run(runCtx); !quiet(err) {
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}
