package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/ui"
)

const (
	outputText = "text"
	outputYAML = "yaml"
	outputJSON = "json"
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// writeTranscript prints messages as styled markdown on a terminal and as
// plain "role: text" lines otherwise.
func writeTranscript(w io.Writer, msgs []conversation.Message) error {
	if isTerminal(w) {
		_, err := fmt.Fprintln(w, ui.NewRenderer(true, 100).Transcript(msgs))
		return err
	}
	_, err := io.WriteString(w, ui.PlainTranscript(msgs))
	return err
}

// writeStructured encodes v for the yaml and json outputs.
func writeStructured(w io.Writer, format string, v interface{}) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(v), "failed to encode json")
	default:
		return errors.Errorf("unknown output format %q (want text, yaml or json)", format)
	}
}
