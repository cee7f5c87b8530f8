package cmds

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/voicebot/pkg/config"
	"github.com/go-go-golems/voicebot/pkg/conversation"
	"github.com/go-go-golems/voicebot/pkg/events"
	"github.com/go-go-golems/voicebot/pkg/logging"
	"github.com/go-go-golems/voicebot/pkg/session"
	"github.com/go-go-golems/voicebot/pkg/ui"
	"github.com/go-go-golems/voicebot/pkg/webmirror"
)

func NewChatCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive voice and text chat",
		Long: `Open the interactive chat. Press ctrl+r to start talking and ctrl+r
again to send the recording. Typed messages are sent with enter and ctrl+l
clears the chat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(v)
			if err != nil {
				return err
			}
			// the TUI owns the terminal, logs go to a file
			ls := logging.SettingsFromViper(v)
			if ls.File == "" {
				ls.File = filepath.Join(config.ConfigDir(), config.AppName+".log")
				if err := logging.InitLogger(ls); err != nil {
					return err
				}
			}
			return runChat(cmd.Context(), s, v.GetBool("verbose"))
		},
	}
	return cmd
}

func runChat(ctx context.Context, s *config.Settings, verbose bool) error {
	cs, err := newChatSession(s, newMicrophone(s), verbose)
	if err != nil {
		return err
	}
	defer func() {
		if err := cs.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close chat session")
		}
	}()

	isOutputTerminal := isatty.IsTerminal(os.Stdout.Fd())
	options := []tea.ProgramOption{tea.WithContext(ctx)}
	if isOutputTerminal {
		options = append(options, tea.WithAltScreen())
	} else {
		options = append(options, tea.WithOutput(os.Stderr))
	}

	ctrl := greetingController{Controller: cs.ctrl, welcome: s.Chat.Welcome}
	model := ui.NewModel(ctx, ctrl, cs.log.Messages(),
		ui.WithTitle("VoiceBot"),
		ui.WithMarkdown(isOutputTerminal),
	)
	p := tea.NewProgram(model, options...)
	if err := cs.router.AddHandler("ui", events.TopicChat, ui.StepChatForwardFunc(p, cs.convID)); err != nil {
		return err
	}

	var mirror *webmirror.Server
	if s.Mirror.Addr != "" {
		mirror = webmirror.NewServer(s.Mirror.Addr, cs.convID, cs.log.Messages)
		if err := cs.router.AddHandler("mirror", events.TopicChat, mirror.StepBroadcastFunc()); err != nil {
			return err
		}
	}

	log.Info().
		Str("conv_id", cs.convID).
		Str("backend", s.Backend.URL).
		Str("pipeline", s.Backend.Pipeline).
		Msg("starting chat")

	return cs.run(ctx, func(ctx context.Context) error {
		ctrl.greet()
		if mirror == nil {
			return runProgram(p)
		}

		eg, egCtx := errgroup.WithContext(ctx)
		mirrorCtx, stopMirror := context.WithCancel(egCtx)
		eg.Go(func() error {
			err := mirror.Run(mirrorCtx)
			if err != nil {
				p.Quit()
			}
			return err
		})
		eg.Go(func() error {
			defer stopMirror()
			return runProgram(p)
		})
		return eg.Wait()
	})
}

// greetingController shows the welcome message again after a reset.
type greetingController struct {
	*session.Controller
	welcome string
}

func (g greetingController) greet() {
	if g.welcome != "" {
		g.Log().Append(g.welcome, conversation.RoleBot, "")
	}
}

func (g greetingController) Reset() error {
	if err := g.Controller.Reset(); err != nil {
		return err
	}
	g.greet()
	return nil
}

func runProgram(p *tea.Program) error {
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
