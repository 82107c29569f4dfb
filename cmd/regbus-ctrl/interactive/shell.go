// Package interactive provides the command shell of regbus-ctrl.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/regbus/regbus-go/pkg/model"
	"github.com/regbus/regbus-go/pkg/service"
)

// DefaultCommandTimeout bounds each bus operation started from the shell.
const DefaultCommandTimeout = 5 * time.Second

// Shell is the interactive command interface over a Root.
type Shell struct {
	root    *service.Root
	out     io.Writer
	rl      *readline.Instance
	timeout time.Duration
}

// New creates a shell reading commands from the terminal.
func New(root *service.Root) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "regbus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(root.Space()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{root: root, out: rl.Stdout(), rl: rl, timeout: DefaultCommandTimeout}, nil
}

// newShell returns a shell without a terminal, writing to out.
func newShell(root *service.Root, out io.Writer) *Shell {
	return &Shell{root: root, out: out, timeout: DefaultCommandTimeout}
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use it for log output.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run reads and executes commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs a single command line and reports whether the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "read", "r":
		err = s.cmdRead(ctx, args)
	case "write", "w":
		err = s.cmdWrite(ctx, args)
	case "get", "g":
		err = s.cmdGet(ctx, args)
	case "set", "s":
		err = s.cmdSet(ctx, args, false)
	case "stage":
		err = s.cmdSet(ctx, args, true)
	case "resolve":
		err = s.cmdResolve(args)
	case "raw":
		err = s.cmdRaw(ctx, args)
	case "poll":
		err = s.cmdPoll(args)
	case "ls", "list":
		err = s.cmdList(args)
	case "tree":
		err = s.cmdTree(args)
	case "status":
		s.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Register Bus Commands:
  Registers:
    read <path>                  - Read a register
    write <path> <value>         - Write a register (decimal or 0x hex)
    resolve <path>               - Show the absolute address of a node

  Links:
    get <path>                   - Read a link in engineering units
    set <path> <value>           - Write a link
    stage <path> <value>         - Stage a link without a bus write

  Raw access:
    raw read <addr> <n>          - Read n bytes at an absolute address
    raw write <addr> <hex>       - Write hex-encoded bytes

  Navigation:
    ls [path]                    - List the children of a device
    tree [path]                  - Show the subtree of a device

  General:
    poll start|stop              - Control background polling
    status                       - Show connection status
    help                         - Show this help
    quit                         - Exit`)
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *Shell) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Shell) cmdRead(ctx context.Context, args []string) error {
	if err := need(args, 1, "read <path>"); err != nil {
		return err
	}
	reg, err := s.root.Space().Register(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	v, err := s.root.Read(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s = %s%s\n", reg.Path(), formatRegister(reg, v), unitSuffix(reg.Units()))
	return nil
}

func (s *Shell) cmdWrite(ctx context.Context, args []string) error {
	if err := need(args, 2, "write <path> <value>"); err != nil {
		return err
	}
	v, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.root.Write(ctx, args[0], v); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *Shell) cmdGet(ctx context.Context, args []string) error {
	if err := need(args, 1, "get <path>"); err != nil {
		return err
	}
	l, err := s.root.Space().Link(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	v, err := s.root.Get(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s = %s%s\n", l.Path(), formatLink(l, v), unitSuffix(l.Units()))
	return nil
}

func (s *Shell) cmdSet(ctx context.Context, args []string, stage bool) error {
	usage := "set <path> <value>"
	if stage {
		usage = "stage <path> <value>"
	}
	if err := need(args, 2, usage); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if stage {
		err = s.root.Stage(ctx, args[0], v)
	} else {
		err = s.root.Set(ctx, args[0], v)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

func (s *Shell) cmdResolve(args []string) error {
	if err := need(args, 1, "resolve <path>"); err != nil {
		return err
	}
	addr, err := s.root.Resolve(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s @ 0x%08x\n", args[0], addr)
	return nil
}

func (s *Shell) cmdRaw(ctx context.Context, args []string) error {
	const usage = "raw read <addr> <n> | raw write <addr> <hex>"
	if err := need(args, 3, usage); err != nil {
		return err
	}
	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", args[1], err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	switch strings.ToLower(args[0]) {
	case "read":
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid length %q", args[2])
		}
		data, err := s.root.RawRead(ctx, addr, n)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, hex.Dump(data))
	case "write":
		data, err := hex.DecodeString(strings.TrimPrefix(args[2], "0x"))
		if err != nil {
			return fmt.Errorf("invalid hex data: %w", err)
		}
		if err := s.root.RawWrite(ctx, addr, data); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "OK (%d bytes)\n", len(data))
	default:
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (s *Shell) cmdPoll(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(s.out, "Polling: %v\n", s.root.Polling())
		return nil
	}
	switch strings.ToLower(args[0]) {
	case "start":
		if err := s.root.StartPolling(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Polling started")
	case "stop":
		s.root.StopPolling()
		fmt.Fprintln(s.out, "Polling stopped")
	default:
		return errors.New("usage: poll start|stop")
	}
	return nil
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func (s *Shell) cmdList(args []string) error {
	d, err := s.root.Space().Device(pathArg(args))
	if err != nil {
		return err
	}
	for _, c := range d.Devices() {
		fmt.Fprintf(s.out, "  %-24s device    @ 0x%08x  %s\n", c.Name()+"/", c.Address(), c.Description())
	}
	for _, r := range d.Registers() {
		fmt.Fprintf(s.out, "  %-24s register  @ 0x%08x  %s\n", r.Name(), r.Address(), r.Mode())
	}
	for _, l := range d.Links() {
		rw := "RO"
		if l.Writable() {
			rw = "RW"
		}
		fmt.Fprintf(s.out, "  %-24s link                    %s\n", l.Name(), rw)
	}
	return nil
}

func (s *Shell) cmdTree(args []string) error {
	d, err := s.root.Space().Device(pathArg(args))
	if err != nil {
		return err
	}
	s.printTree(d, 0)
	return nil
}

func (s *Shell) printTree(d *model.Device, depth int) {
	indent := strings.Repeat("  ", depth)
	name := d.Name()
	if depth == 0 && d.Path() == "" {
		name = "/"
	}
	fmt.Fprintf(s.out, "%s%s @ 0x%08x\n", indent, name, d.Address())
	for _, r := range d.Registers() {
		fmt.Fprintf(s.out, "%s  %s [%s]\n", indent, r.Name(), r.Mode())
	}
	for _, l := range d.Links() {
		fmt.Fprintf(s.out, "%s  %s (link)\n", indent, l.Name())
	}
	for _, c := range d.Devices() {
		s.printTree(c, depth+1)
	}
}

func (s *Shell) cmdStatus() {
	fmt.Fprintf(s.out, "Service:    %s\n", s.root.State())
	fmt.Fprintf(s.out, "Connection: %s\n", s.root.ConnectionState())
	fmt.Fprintf(s.out, "Polling:    %v\n", s.root.Polling())
	fmt.Fprintf(s.out, "Registers:  %d\n", len(s.root.Space().Registers()))
	fmt.Fprintf(s.out, "Links:      %d\n", len(s.root.Space().Links()))
}

func formatRegister(r *model.Register, v uint64) string {
	if r.Disp() != "" {
		return fmt.Sprintf(r.Disp(), v)
	}
	return strconv.FormatUint(v, 10)
}

func formatLink(l *model.Link, v float64) string {
	if l.Disp() != "" {
		return fmt.Sprintf(l.Disp(), v)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func unitSuffix(units string) string {
	if units == "" {
		return ""
	}
	return " " + units
}

// completer offers command names and node paths.
func completer(space *model.Space) readline.AutoCompleter {
	var paths []readline.PrefixCompleterInterface
	_ = space.Walk(func(n model.Node) error {
		paths = append(paths, readline.PcItem(n.Path()))
		return nil
	})
	return readline.NewPrefixCompleter(
		readline.PcItem("read", paths...),
		readline.PcItem("write", paths...),
		readline.PcItem("get", paths...),
		readline.PcItem("set", paths...),
		readline.PcItem("stage", paths...),
		readline.PcItem("resolve", paths...),
		readline.PcItem("ls", paths...),
		readline.PcItem("tree", paths...),
		readline.PcItem("raw", readline.PcItem("read"), readline.PcItem("write")),
		readline.PcItem("poll", readline.PcItem("start"), readline.PcItem("stop")),
		readline.PcItem("status"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}
