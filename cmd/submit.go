package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"homevoice/pkg/command"
	"homevoice/pkg/stt"
	"homevoice/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var (
	submitAudio string
	submitMime  string
	submitUser  string
	submitWait  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Submit one command to the pipeline",
	Long: `Stages one text or audio command and publishes it to the command queue.

With RabbitMQ the command goes to the running stt workers and submit returns
its ID. With the memory broker the worker runs in this process, so submit
always waits for the outcome; --wait is only accepted there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := submitRequest(args)
		if err != nil {
			return err
		}

		cfg, log, err := setup("cmd.submit", false)
		if err != nil {
			return err
		}

		runCtx, stop := signalContext()
		defer stop()

		p, err := openPipeline(runCtx, cfg, log)
		if err != nil {
			return err
		}
		defer p.Close()

		if p.distributed() {
			if submitWait {
				return errors.New("--wait needs the memory broker; outcomes on a shared broker belong to the downstream services")
			}

			sub, err := buildSubmission(submitUser, req)
			if err != nil {
				return err
			}
			ref, err := p.newIngest().Submit(runCtx, sub)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref.ID)
			return nil
		}

		transcriber, err := stt.New(cfg.STT)
		if err != nil {
			return fmt.Errorf("initialize transcriber: %w", err)
		}

		tracker := startWorker(runCtx, p, transcriber, cfg.Queues.Success, cfg.Queues.Error)
		o, err := awaitingSubmitter(p.newIngest(), tracker, submitUser, defaultAwaitTimeout)(runCtx, req)
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), o)
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitAudio, "audio", "", "audio file to submit instead of text")
	submitCmd.Flags().StringVar(&submitMime, "mime", "", "MIME type of --audio (detected from the extension when empty)")
	submitCmd.Flags().StringVar(&submitUser, "user", "cli", "user ID attached to the command")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the outcome")
}

func submitRequest(args []string) (chat.Request, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	audioPath := strings.TrimSpace(submitAudio)

	switch {
	case audioPath != "" && text != "":
		return chat.Request{}, errors.New("pass either text or --audio, not both")
	case audioPath != "":
		return chat.Request{AudioPath: audioPath, MimeType: strings.TrimSpace(submitMime)}, nil
	case text != "":
		return chat.Request{Text: text}, nil
	default:
		return chat.Request{}, errors.New("nothing to submit: pass text or --audio")
	}
}

// printOutcome writes the transcript on success. A failure is returned as an
// error so the process exits non-zero.
func printOutcome(w io.Writer, o command.Outcome) error {
	switch v := o.(type) {
	case command.Success:
		_, err := fmt.Fprintln(w, v.Text)
		return err
	case command.Failure:
		return fmt.Errorf("command %s failed (%s): %s", v.ID, v.Kind, v.Reason)
	default:
		return fmt.Errorf("unexpected outcome %T", o)
	}
}
