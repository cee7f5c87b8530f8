package cmds

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/pkg/backend"
	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/media"
)

func NewTranscribeCommand(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe an audio file with the speech-to-text endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			_, client, err := s.NewBackend()
			if err != nil {
				return err
			}

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return errors.Wrapf(err, "failed to read %s", path)
			}
			resp, err := client.Transcribe(cmd.Context(), backend.AudioPayload{
				Data:     data,
				MimeType: media.MimeTypeForPath(path),
				Filename: filepath.Base(path),
			})
			if err != nil {
				return err
			}
			if resp.Error != "" {
				return &backend.APIError{Endpoint: backend.EndpointTranscribe, Message: resp.Error}
			}

			if output == outputText {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
				return err
			}
			return writeStructured(cmd.OutOrStdout(), output, resp)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, yaml or json")
	return cmd
}
