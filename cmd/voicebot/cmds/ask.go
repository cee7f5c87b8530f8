package cmds

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/session"
)

func NewAskCommand(v *viper.Viper) *cobra.Command {
	var (
		noAudio bool
		output  string
	)
	cmd := &cobra.Command{
		Use:   "ask PROMPT...",
		Short: "Send a typed message and print the reply",
		Example: `  voicebot ask "What time is checkout?"
  voicebot ask --no-audio --output json "Do you have parking?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			if noAudio {
				s.Chat.SpeakTypedReplies = false
			}
			prompt := strings.Join(args, " ")
			if strings.TrimSpace(prompt) == "" {
				return errors.New("prompt must not be empty")
			}

			cs, err := newChatSession(s, newMicrophone(s), v.GetBool("verbose"))
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
				turnErr = cs.ctrl.SubmitText(ctx, prompt)
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
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Do not speak the reply")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, yaml or json")
	return cmd
}

// reportTurnError logs errors that already produced a bot message and
// returns the others.
func reportTurnError(err error) error {
	if err == nil {
		return nil
	}
	if kind := session.KindOf(err); kind != "" {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("turn ended with error")
		if kind == session.KindSynthesisFailed || strings.HasPrefix(string(kind), "playback-") {
			return nil
		}
		return errors.Errorf("turn failed: %s", kind)
	}
	return err
}
