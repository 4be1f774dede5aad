package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"

	"github.com/cage-sim/cageclient/internal/dispatcher"
	"github.com/cage-sim/cageclient/pkg/cage"
	"github.com/cage-sim/cageclient/pkg/core"
)

var errQuit = errors.New("quit")

// drainTimeout bounds the wait for each queued telemetry message when the
// shell catches up on status.
const drainTimeout = 50 * time.Millisecond

type shell struct {
	session *cage.Session
	d       *dispatcher.Dispatcher
	out     io.Writer

	status   core.VehicleStatus
	received bool
}

func newShell(s *cage.Session, out io.Writer, logger *slog.Logger) (*shell, error) {
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, err
	}
	sh := &shell{session: s, d: d, out: out}

	d.Register("rpm", sh.rpm, dispatcher.MinArgs(2), dispatcher.Logged(),
		dispatcher.Describe("rpm <left> <right>  set wheel speeds"))
	d.Register("vw", sh.vw, dispatcher.MinArgs(2), dispatcher.Logged(),
		dispatcher.Describe("vw <v m/s> <w rad/s>  set speed and yaw rate"))
	d.Register("flw", sh.flw, dispatcher.MinArgs(3), dispatcher.Logged(),
		dispatcher.Describe("flw <forward> <left> <w>  set velocity components"))
	d.Register("stop", sh.stop, dispatcher.Logged(),
		dispatcher.Describe("stop  zero speed and yaw rate"))
	d.Register("console", sh.console, dispatcher.MinArgs(1), dispatcher.Logged(),
		dispatcher.Describe("console <command...>  run a server console command"))
	d.Register("list", sh.list, dispatcher.Describe("list [tag]  list endpoints"))
	d.Register("meta", sh.meta, dispatcher.MinArgs(1), dispatcher.Describe("meta <endpoint>  show actor metadata"))
	d.Register("status", sh.showStatus, dispatcher.Describe("status  latest vehicle status"))
	d.Register("info", sh.info, dispatcher.Describe("info  vehicle and world info"))
	d.Register("stats", sh.stats, dispatcher.Describe("stats  session counters"))
	d.Register("help", sh.help, dispatcher.Describe("help  this list"))
	d.Register("quit", sh.quit, dispatcher.Describe("quit  leave the shell"))
	d.Register("exit", sh.quit)
	return sh, nil
}

func shellCommand(in *os.File, out io.Writer) error {
	s, err := connectSession(false)
	if err != nil {
		return err
	}
	defer closeSession(s)

	sh, err := newShell(s, out, Logger)
	if err != nil {
		return err
	}

	if isatty.IsTerminal(in.Fd()) {
		prompt.New(sh.interactive, sh.complete,
			prompt.OptionPrefix("cage> "),
			prompt.OptionTitle(ToolName+" "+s.Endpoint()),
		).Run()
		return nil
	}
	return sh.runLines(in)
}

// runLines executes one command per input line until EOF or quit.
func (sh *shell) runLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if errors.Is(sh.exec(scanner.Text()), errQuit) {
			return nil
		}
	}
	return scanner.Err()
}

// interactive is the prompt executor. The prompt library offers no way to
// stop its loop from an executor, so quit exits the process.
func (sh *shell) interactive(line string) {
	if errors.Is(sh.exec(line), errQuit) {
		closeSession(sh.session)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = SlogManager.Flush(ctx)
		cancel()
		os.Exit(0)
	}
}

// exec runs one line and prints its result or error.
func (sh *shell) exec(line string) error {
	e, ok := dispatcher.ParseLine(line)
	if !ok {
		return nil
	}
	result, err := sh.d.Dispatch(e)
	switch {
	case errors.Is(err, errQuit):
		return err
	case err != nil:
		fmt.Fprintln(sh.out, "error:", err)
		return err
	case result != nil:
		fmt.Fprintln(sh.out, result)
	}
	return nil
}

func (sh *shell) complete(doc prompt.Document) []prompt.Suggest {
	if strings.Contains(doc.TextBeforeCursor(), " ") {
		return nil
	}
	cmds := sh.d.Commands()
	suggests := make([]prompt.Suggest, 0, len(cmds))
	for _, c := range cmds {
		if c.Usage == "" {
			continue
		}
		suggests = append(suggests, prompt.Suggest{Text: c.Name, Description: c.Usage})
	}
	return prompt.FilterHasPrefix(suggests, doc.GetWordBeforeCursor(), true)
}

func parseFloats(args []string, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func (sh *shell) rpm(e dispatcher.Event) (any, error) {
	v, err := parseFloats(e.Args, 2)
	if err != nil {
		return nil, err
	}
	return "ok", sh.session.SetRPM(v[0], v[1])
}

func (sh *shell) vw(e dispatcher.Event) (any, error) {
	v, err := parseFloats(e.Args, 2)
	if err != nil {
		return nil, err
	}
	return "ok", sh.session.SetVW(v[0], v[1])
}

func (sh *shell) flw(e dispatcher.Event) (any, error) {
	v, err := parseFloats(e.Args, 3)
	if err != nil {
		return nil, err
	}
	return "ok", sh.session.SetVelocityComponents(v[0], v[1], v[2])
}

func (sh *shell) stop(dispatcher.Event) (any, error) {
	return "ok", sh.session.SetVW(0, 0)
}

func (sh *shell) console(e dispatcher.Event) (any, error) {
	return sh.session.ExecConsole(strings.Join(e.Args, " "))
}

func (sh *shell) list(e dispatcher.Event) (any, error) {
	tag := cage.VehicleTag
	if len(e.Args) > 0 {
		tag = e.Args[0]
	}
	ids, err := sh.session.ListEndpoints(tag)
	if err != nil {
		return nil, err
	}
	return strings.Join(ids, "\n"), nil
}

func (sh *shell) meta(e dispatcher.Event) (any, error) {
	meta, err := sh.session.ActorMetadata(e.Args[0])
	if err != nil {
		return nil, err
	}
	return nil, printJSON(sh.out, meta)
}

// showStatus consumes the queued telemetry and prints the resulting status.
func (sh *shell) showStatus(dispatcher.Event) (any, error) {
	for i := 0; i < 1000; i++ {
		ok, err := sh.session.ReceiveStatus(&sh.status, drainTimeout)
		if err != nil && !errors.Is(err, core.ErrProtocol) {
			return nil, err
		}
		if err == nil && !ok {
			break
		}
		if ok {
			sh.received = true
		}
	}
	if !sh.received {
		return "no telemetry received yet", nil
	}
	return strings.TrimRight(sh.status.String(), "\n"), nil
}

func (sh *shell) info(dispatcher.Event) (any, error) {
	return nil, printJSON(sh.out, map[string]any{
		"session":  sh.session.ID(),
		"endpoint": sh.session.Endpoint(),
		"vehicle":  sh.session.VehicleInfo(),
		"world":    sh.session.WorldInfo(),
	})
}

func (sh *shell) stats(dispatcher.Event) (any, error) {
	return fmt.Sprintf("%+v", sh.session.Stats()), nil
}

func (sh *shell) help(dispatcher.Event) (any, error) {
	var b strings.Builder
	for _, c := range sh.d.Commands() {
		if c.Usage != "" {
			fmt.Fprintln(&b, " ", c.Usage)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (sh *shell) quit(dispatcher.Event) (any, error) {
	return nil, errQuit
}
