package cmd

import (
	"context"
	"fmt"

	"homevoice/pkg/gateway"
	"homevoice/pkg/outcome"
	"homevoice/pkg/stt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingestion and the stt worker in one process",
	Long:  "Runs the chat channels, the HTTP API and the dispatch worker together. With the memory broker the outcome queues are consumed here and logged; with RabbitMQ they are left for the downstream services.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := setup("cmd.run", false)
		if err != nil {
			fmt.Println(err)
			return
		}

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
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

		svc, err := gateway.NewService(cfg.Gateway, p.newIngest(), adapters, log)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return
		}

		successQueue, errorQueue := outcomeQueues(p, cfg.Gateway.NotifyErrors)
		tracker := startWorker(runCtx, p, transcriber, successQueue, errorQueue)
		if tracker != nil {
			tracker.Listen(svc.NotifyFailure)
		}
		p.observe(runCtx)

		log.Info("Pipeline started", "channels", enabledChannelNames(adapters), "broker", cfg.Broker.Driver, "cache", cfg.Cache.Driver)
		if err := svc.Run(runCtx); !quiet(err) {
			log.Error("Gateway runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// outcomeQueues picks the outcome queues this process may consume. A shared
// broker keeps the success queue for the NLU service and the error queue
// unless failures are reported back to users.
func outcomeQueues(p *pipeline, notifyErrors bool) (string, string) {
	if !p.distributed() {
		return p.cfg.Queues.Success, p.cfg.Queues.Error
	}
	if notifyErrors {
		return "", p.cfg.Queues.Error
	}
	return "", ""
}

// startWorker runs the dispatch worker and, when any outcome queue is
// named, a tracker on those queues. Both stop when ctx ends.
func startWorker(ctx context.Context, p *pipeline, transcriber stt.Transcriber, successQueue string, errorQueue string) *outcome.Tracker {
	worker := p.newWorker(transcriber)
	go func() {
		if err := worker.Run(ctx, p.broker, p.cfg.Queues.Command, p.cfg.Worker.Concurrency); !quiet(err) {
			p.log.Error("Worker stopped", "error", err)
		}
	}()

	if successQueue == "" && errorQueue == "" {
		return nil
	}

	tracker := p.newTracker(successQueue, errorQueue)
	go func() {
		if err := tracker.Run(ctx); !quiet(err) {
			p.log.Error("Outcome consumer stopped", "error", err)
		}
	}()
	return tracker
}
