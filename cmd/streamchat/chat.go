package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/events"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Chat in the terminal",
	Long: `Sends the prompt given as arguments and prints the streamed answer.

Without arguments, or with --interactive, reads further messages from stdin.
Lines starting with / are commands, see /help.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolP("interactive", "i", false, "Keep chatting after the first answer")
	addSettingsFlags(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	out := cmd.OutOrStdout()
	router.AddHandler("printer", events.StepPrinterFunc("assistant", out))

	manager, records, err := newManager(ctx, cmd, router.Sink())
	if err != nil {
		return err
	}
	defer func() {
		_ = records.Close()
	}()

	interactive, _ := cmd.Flags().GetBool("interactive")
	if len(args) == 0 {
		interactive = true
	}

	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}

		if len(args) > 0 {
			if _, err := manager.SendAndWait(ctx, strings.Join(args, " ")); err != nil && !chaterr.IsUpstream(err) {
				return err
			}
		}
		if !interactive {
			return nil
		}

		return newREPL(manager, cmd.InOrStdin(), out).run(ctx)
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type repl struct {
	manager *session.Manager
	out     io.Writer
	prompt  func() (string, error)
}

// newREPL prompts with go-input on a terminal. Piped input is read line by
// line since go-input buffers a fresh reader for every question.
func newREPL(manager *session.Manager, in io.Reader, out io.Writer) *repl {
	ret := &repl{manager: manager, out: out}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		reader := &eofReader{r: in}
		ui := &input.UI{Writer: out, Reader: reader}
		ret.prompt = func() (string, error) {
			line, err := ui.Ask("you", &input.Options{HideOrder: true})
			if err == nil && line == "" && reader.eof {
				return "", io.EOF
			}
			return line, err
		}
		return ret
	}

	scanner := bufio.NewScanner(in)
	ret.prompt = func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
	return ret
}

// eofReader remembers whether the underlying reader hit EOF, which go-input
// reports as an empty answer.
type eofReader struct {
	r   io.Reader
	eof bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		e.eof = true
	}
	return n, err
}

const replHelp = `commands:
  /history              print the conversation
  /edit <id> <text>     replace the text of a message
  /delete <id>          delete a message
  /clear                delete every message
  /new [name]           start a new conversation
  /save <name>          save the conversation
  /load <id>            load a saved conversation
  /records              list saved conversations
  /settings             print the current settings
  /set <field> <value>  change a setting (temperature, top_p, presence_penalty,
                        frequency_penalty, model_id, system_prompt)
  /quit                 leave
`

func (r *repl) run(ctx context.Context) error {
	_, _ = fmt.Fprintln(r.out, "type /help for commands")

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.prompt()
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			_, err := r.manager.SendAndWait(ctx, line)
			if err != nil && !chaterr.IsUpstream(err) {
				r.printError(err)
			}
			continue
		}

		quit, err := r.command(ctx, line)
		if err != nil {
			r.printError(err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) printError(err error) {
	_, _ = fmt.Fprintf(r.out, "error: %s\n", err)
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "quit", "exit", "q":
		return true, nil

	case "help":
		_, _ = fmt.Fprint(r.out, replHelp)

	case "history":
		r.printTurns(r.manager.Turns())

	case "edit":
		idStr, text, _ := strings.Cut(rest, " ")
		id, err := parseTurnID(idStr)
		if err != nil {
			return false, err
		}
		return false, r.manager.Edit(id, strings.TrimSpace(text))

	case "delete":
		id, err := parseTurnID(rest)
		if err != nil {
			return false, err
		}
		return false, r.manager.Delete(id)

	case "clear":
		return false, r.manager.Clear()

	case "new":
		return false, r.manager.Reset(rest)

	case "save":
		if rest == "" {
			rest = r.manager.Name()
		}
		id, err := r.manager.Save(ctx, rest)
		if err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(r.out, "saved as %s\n", id)

	case "load":
		records := r.manager.Records()
		if records == nil {
			return false, session.ErrNoPersistence
		}
		if err := r.manager.LoadRecord(ctx, persistence.ResolveRecordID(ctx, records, rest)); err != nil {
			return false, err
		}
		r.printTurns(r.manager.Turns())

	case "records":
		records := r.manager.Records()
		if records == nil {
			return false, session.ErrNoPersistence
		}
		infos, err := records.List(ctx)
		if err != nil {
			return false, err
		}
		for _, info := range infos {
			_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\n", info.ID, info.Name, info.ModifiedAt.Format("2006-01-02 15:04"))
		}

	case "settings":
		b, err := yaml.Marshal(r.manager.Settings())
		if err != nil {
			return false, err
		}
		_, _ = r.out.Write(b)

	case "set":
		field, value, _ := strings.Cut(rest, " ")
		return false, r.set(field, strings.TrimSpace(value))

	default:
		return false, chaterr.NewValidationError("command", "unknown command /"+name)
	}

	return false, nil
}

// set changes one field through the yaml representation so the field names
// match the config file.
func (r *repl) set(field string, value string) error {
	current := r.manager.Settings()
	b, err := yaml.Marshal(current)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &fields); err != nil {
		return err
	}
	if _, ok := fields[field]; !ok {
		return chaterr.NewValidationError(field, "unknown setting")
	}
	if field == "model_id" || field == "system_prompt" {
		fields[field] = value
	} else {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return chaterr.NewValidationError(field, "not a number")
		}
		fields[field] = v
	}

	b, err = yaml.Marshal(fields)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, &current); err != nil {
		return err
	}
	updated, err := current.With()
	if err != nil {
		return err
	}
	return r.manager.UpdateSettings(updated)
}

func (r *repl) printTurns(turns []conversation.Turn) {
	for _, t := range turns {
		_, _ = fmt.Fprintln(r.out, t.View())
	}
}

func parseTurnID(s string) (conversation.TurnID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, chaterr.NewValidationError("id", "invalid message id "+strconv.Quote(s))
	}
	return conversation.TurnID(id), nil
}
