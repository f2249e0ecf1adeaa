/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"homevoice/pkg/command"
	"homevoice/pkg/config"
	"homevoice/pkg/gateway"
	"homevoice/pkg/ingest"
	"homevoice/pkg/outcome"
	"homevoice/pkg/stt"
	"homevoice/pkg/ui/chat"

	"github.com/spf13/cobra"
)

const defaultAwaitTimeout = 3 * time.Minute

var (
	consoleText string
	consoleUser string
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console [command]",
	Short: "Send one command or open the interactive console",
	Long:  "Runs the whole pipeline in this process on the memory broker, then sends one command or opens a terminal console that shows each outcome.",
	Run: func(cmd *cobra.Command, args []string) {
		input := resolveInput(consoleText, args)

		cfg, log, err := setup("cmd.console", true)
		if err != nil {
			fmt.Println(err)
			return
		}
		forceMemoryBroker(cfg)

		transcriber, err := stt.New(cfg.STT)
		if err != nil {
			fmt.Printf("failed to initialize transcriber: %v\n", err)
			return
		}

		runCtx, stop := signalContext()
		defer stop()

		p, err := openPipeline(runCtx, cfg, log)
		if err != nil {
			fmt.Printf("failed to open pipeline: %v\n", err)
			return
		}
		defer p.Close()

		tracker := startWorker(runCtx, p, transcriber, cfg.Queues.Success, cfg.Queues.Error)
		p.observe(runCtx)

		submitFn := awaitingSubmitter(p.newIngest(), tracker, consoleUser, defaultAwaitTimeout)
		info := chat.RuntimeInfo{
			Broker:      cfg.Broker.Driver,
			Cache:       cfg.Cache.Driver,
			Transcriber: cfg.STT.Provider + "/" + cfg.STT.Model,
			UserID:      consoleUser,
		}

		if input != "" {
			err = chat.RunOneShot(runCtx, submitFn, input, info)
		} else {
			err = chat.RunInteractive(runCtx, submitFn, info)
		}
		if err != nil {
			fmt.Printf("console failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consoleText, "command", "c", "", "command to send (\"/voice <file> [mime]\" for audio)")
	consoleCmd.Flags().StringVarP(&consoleUser, "user", "u", "console", "user ID attached to submitted commands")
}

func resolveInput(flagValue string, args []string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// forceMemoryBroker keeps outcomes in this process so the console does not
// consume queues that belong to the downstream services.
func forceMemoryBroker(cfg *config.Config) {
	cfg.Broker.Driver = config.BrokerMemory
}

// awaitingSubmitter submits each request and waits for its outcome on tracker.
func awaitingSubmitter(submitter gateway.Submitter, tracker *outcome.Tracker, userID string, timeout time.Duration) chat.SubmitFunc {
	return func(ctx context.Context, req chat.Request) (command.Outcome, error) {
		sub, err := buildSubmission(userID, req)
		if err != nil {
			return nil, err
		}

		ref, err := submitter.Submit(ctx, sub)
		if err != nil {
			return nil, err
		}

		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return tracker.Await(waitCtx, ref.ID)
	}
}

func buildSubmission(userID string, req chat.Request) (ingest.Submission, error) {
	if req.AudioPath == "" {
		return ingest.Submission{UserID: userID, Text: req.Text}, nil
	}

	content, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return ingest.Submission{}, fmt.Errorf("read audio: %w", err)
	}

	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = detectMimeType(req.AudioPath)
	}

	return ingest.Submission{UserID: userID, Audio: content, MimeType: mimeType}, nil
}

// detectMimeType guesses the audio type from the file extension. Raw .pcm
// files are taken as little-endian 16 kHz mono.
func detectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".pcm", ".raw":
		return "audio/pcm; rate=16000"
	}

	if value := mime.TypeByExtension(ext); value != "" {
		return value
	}
	return "application/octet-stream"
}
