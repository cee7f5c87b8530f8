package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/media"
)

func NewRecordCommand(v *viper.Viper) *cobra.Command {
	var (
		file     string
		duration time.Duration
		output   string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one spoken question and play the reply",
		Long: `Record one utterance from the microphone, send it to the voice bot and
play the spoken reply. Recording stops when enter is pressed or after
--duration. With --file the given audio file is sent instead.`,
		Example: `  voicebot record
  voicebot record --duration 5s
  voicebot record --file question.webm --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}

			var mic media.Microphone = newMicrophone(s)
			if file != "" {
				mic = &media.FileMicrophone{Path: file}
			}

			cs, err := newChatSession(s, mic, v.GetBool("verbose"))
			if err != nil {
				return err
			}
			defer func() {
				if err := cs.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close session")
				}
			}()

			var turnErr error
			err = cs.run(cmd.Context(), func(ctx context.Context) error {
				if err := cs.ctrl.StartRecording(ctx); err != nil {
					turnErr = err
					return nil
				}
				if file == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "Recording... press enter to send.")
					if !waitForStop(ctx, cmd.InOrStdin(), duration) {
						turnErr = cs.ctrl.Abort()
						return nil
					}
				}
				turnErr = cs.ctrl.StopRecording(ctx)
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			msgs := cs.log.Messages()
			if output == outputText {
				if err := writeTranscript(out, msgs); err != nil {
					return err
				}
			} else if err := writeStructured(out, output, msgs); err != nil {
				return err
			}
			return reportTurnError(turnErr)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Send this audio file instead of recording")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Stop recording after this long (0 waits for enter)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, yaml or json")
	return cmd
}

// waitForStop blocks until a line is read from in or d elapses. It returns
// false when ctx is cancelled first.
func waitForStop(ctx context.Context, in io.Reader, d time.Duration) bool {
	lines := make(chan struct{}, 1)
	go func() {
		_, _ = bufio.NewReader(in).ReadString('\n')
		lines <- struct{}{}
	}()

	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-lines:
		return true
	case <-timeout:
		return true
	case <-ctx.Done():
		return false
	}
}
