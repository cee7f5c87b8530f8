package cmds

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/persistence/transcriptstore"
)

var (
	historyTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	historyMetaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

func NewHistoryCommand(v *viper.Viper) *cobra.Command {
	var (
		limit  int
		since  time.Duration
		output string
	)
	cmd := &cobra.Command{
		Use:   "history [CONVERSATION-ID]",
		Short: "List stored conversations or print one transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			if !s.Store.Enabled {
				return errors.New("the transcript store is disabled")
			}
			store, err := openStore(s)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close transcript store")
				}
			}()

			var sinceMs int64
			if since > 0 {
				sinceMs = time.Now().Add(-since).UnixMilli()
			}
			q := historyQuery{limit: limit, sinceMs: sinceMs, output: output}
			if len(args) == 1 {
				q.convID = args[0]
			}
			return runHistory(cmd.Context(), store, cmd.OutOrStdout(), q)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of conversations to list")
	cmd.Flags().DurationVar(&since, "since", 0, "Only list conversations active within this duration")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format: text, yaml or json")
	return cmd
}

type historyQuery struct {
	convID  string
	limit   int
	sinceMs int64
	output  string
}

type transcriptView struct {
	Conversation transcriptstore.ConversationRecord `json:"conversation" yaml:"conversation"`
	Messages     []conversation.Message             `json:"messages" yaml:"messages"`
}

func runHistory(ctx context.Context, store transcriptstore.TranscriptStore, w io.Writer, q historyQuery) error {
	if q.convID == "" {
		records, err := store.ListConversations(ctx, q.limit, q.sinceMs)
		if err != nil {
			return err
		}
		if q.output != outputText {
			return writeStructured(w, q.output, records)
		}
		if len(records) == 0 {
			_, err := fmt.Fprintln(w, "No conversations stored yet.")
			return err
		}
		for _, r := range records {
			title := r.Title
			if title == "" {
				title = "(untitled)"
			}
			_, err := fmt.Fprintf(w, "%s  %s\n  %s\n",
				r.ConvID,
				historyTitleStyle.Render(title),
				historyMetaStyle.Render(fmt.Sprintf("%d messages, last active %s, %s",
					r.MessageCount,
					time.UnixMilli(r.LastActivityMs).Format(time.DateTime),
					r.Status)))
			if err != nil {
				return err
			}
		}
		return nil
	}

	record, ok, err := store.GetConversation(ctx, q.convID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("conversation %s not found", q.convID)
	}
	msgs, err := store.GetTranscript(ctx, q.convID)
	if err != nil {
		return err
	}
	if q.output != outputText {
		return writeStructured(w, q.output, transcriptView{Conversation: record, Messages: msgs})
	}
	return writeTranscript(w, msgs)
}
