package cmd

import (
	"fmt"

	"homevoice/pkg/stt"

	"github.com/spf13/cobra"
)

var sttCmd = &cobra.Command{
	Use:   "stt",
	Short: "Run the speech-to-text dispatch worker",
	Long:  "Consumes the command queue, transcribes voice commands and publishes every outcome to the success or error queue.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := setup("cmd.stt", false)
		if err != nil {
			fmt.Println(err)
			return
		}

		transcriber, err := stt.New(cfg.STT)
		if err != nil {
			log.Error("Failed to initialize transcriber", "error", err)
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
			log.Warn("Memory broker only reaches this process; no other process can submit commands (use \"run\" instead)")
		}
		p.observe(runCtx)

		log.Info("Worker started", "queue", cfg.Queues.Command, "concurrency", cfg.Worker.Concurrency, "stt_provider", cfg.STT.Provider, "stt_model", cfg.STT.Model)
		if err := p.newWorker(transcriber).Run(runCtx, p.broker, cfg.Queues.Command, cfg.Worker.Concurrency); !quiet(err) {
			log.Error("Worker stopped", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(sttCmd)
}
