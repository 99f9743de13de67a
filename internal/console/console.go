// Package console provides the interactive command-line interface for
// poking instrument parameters by tag.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/shaunagostinho/k648x-driver/internal/device"
	"github.com/shaunagostinho/k648x-driver/internal/k648x"
)

// Console handles interactive mode for k648xctl.
type Console struct {
	devices []*device.Device
	byName  map[string]*device.Device
	current *device.Device
	handles map[string]k648x.Handle

	rl  *readline.Instance
	out io.Writer
}

// New creates a console with line editing and tag completion.
func New(devices []*device.Device) (*Console, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("console: no devices configured")
	}
	c := newConsole(devices, os.Stdout)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.prompt(),
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	return c, nil
}

func newConsole(devices []*device.Device, out io.Writer) *Console {
	c := &Console{
		devices: devices,
		byName:  make(map[string]*device.Device, len(devices)),
		handles: make(map[string]k648x.Handle),
		out:     out,
	}
	for _, d := range devices {
		c.byName[strings.ToUpper(d.Name())] = d
	}
	if len(devices) > 0 {
		c.current = devices[0]
	}
	return c
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer { return c.out }

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Console) Stderr() io.Writer {
	if c.rl != nil {
		return c.rl.Stderr()
	}
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(line) {
			cancel()
			return
		}
		c.rl.SetPrompt(c.prompt())
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *Console) Execute(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "devices", "ls":
		c.cmdDevices()
	case "use":
		c.cmdUse(args)
	case "connect":
		c.cmdConnect()
	case "close":
		c.cmdClose()
	case "tags":
		c.cmdTags()
	case "resolve":
		c.cmdResolve(args)
	case "read", "r":
		c.cmdRead(args)
	case "write", "w":
		c.cmdWrite(args)
	case "report":
		c.cmdReport(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) prompt() string {
	return strings.ToLower(c.current.Name()) + "> "
}

func (c *Console) completer() *readline.PrefixCompleter {
	tags := func(string) []string {
		var all []string
		for _, tag := range k648x.Tags(c.current.Variant()) {
			all = append(all, tag, strings.ToLower(tag))
		}
		return all
	}
	names := func(string) []string {
		var all []string
		for _, d := range c.devices {
			all = append(all, d.Name())
		}
		return all
	}
	kinds := []readline.PrefixCompleterInterface{
		readline.PcItem("int"), readline.PcItem("float"), readline.PcItem("string"),
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("devices"),
		readline.PcItem("use", readline.PcItemDynamic(names)),
		readline.PcItem("connect"),
		readline.PcItem("close"),
		readline.PcItem("tags"),
		readline.PcItem("resolve", readline.PcItemDynamic(tags)),
		readline.PcItem("read", readline.PcItemDynamic(tags, kinds...)),
		readline.PcItem("write", readline.PcItemDynamic(tags, kinds...)),
		readline.PcItem("report", readline.PcItem("-v")),
		readline.PcItem("quit"),
	)
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Keithley 648x Commands:
  Devices:
    devices                     - List configured instruments
    use <name>                  - Switch the current instrument
    connect | close             - Open or close the current session

  Parameters:
    tags                        - List tags valid for the current model
    resolve <tag>               - Show the handler a tag binds to
    read <tag> [int|float|string]
    write <tag> <int|float|string> <value>

  Diagnostics:
    report [-v]                 - Print the port report

  General:
    help                        - Show this help
    quit                        - Exit`)
}

func (c *Console) cmdDevices() {
	for _, d := range c.devices {
		mark := " "
		if d == c.current {
			mark = "*"
		}
		state := "disconnected"
		if d.IsConnected() {
			state = "connected"
		}
		fmt.Fprintf(c.out, "%s %-8s %s  %s\n", mark, d.Name(), d.Model(), state)
	}
}

func (c *Console) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: use <name>")
		return
	}
	d, ok := c.byName[strings.ToUpper(args[0])]
	if !ok {
		fmt.Fprintf(c.out, "Unknown device: %s\n", args[0])
		return
	}
	c.current = d
}

func (c *Console) cmdConnect() {
	if err := c.current.Connect(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s connected\n", c.current.Name())
}

func (c *Console) cmdClose() {
	if err := c.current.Close(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s closed\n", c.current.Name())
}

func (c *Console) cmdTags() {
	tags := k648x.Tags(c.current.Variant())
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintln(c.out, "  "+tag)
	}
}

// handle resolves tag on the current device, caching the binding.
func (c *Console) handle(tag string) (*k648x.Session, k648x.Handle, error) {
	sess, err := c.current.Session()
	if err != nil {
		return nil, k648x.Handle{}, err
	}
	key := strings.ToUpper(c.current.Name() + "/" + tag)
	if h, ok := c.handles[key]; ok {
		return sess, h, nil
	}
	h, err := sess.Resolve(tag)
	if err != nil {
		return nil, k648x.Handle{}, err
	}
	c.handles[key] = h
	return sess, h, nil
}

func (c *Console) cmdResolve(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: resolve <tag>")
		return
	}
	_, h, err := c.handle(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s -> %s\n", h.Tag(), h.Class())
}

func (c *Console) cmdRead(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.out, "Usage: read <tag> [int|float|string]")
		fmt.Fprintln(c.out, "  Example: read RANGE int")
		return
	}
	kind := k648x.KindInt32
	if len(args) == 2 {
		k, err := k648x.ParseKind(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return
		}
		kind = k
	}

	sess, h, err := c.handle(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	v, err := sess.Read(h, kind)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if !v.Valid {
		fmt.Fprintf(c.out, "%s (%s): no value\n", h.Tag(), kind)
		return
	}
	if kind == k648x.KindOctet {
		fmt.Fprintf(c.out, "%s = %q (len %d, eom %s)\n", h.Tag(), v.Octet, v.Length, v.EOM)
		return
	}
	fmt.Fprintf(c.out, "%s = %s\n", h.Tag(), v)
}

func (c *Console) cmdWrite(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.out, "Usage: write <tag> <int|float|string> <value>")
		fmt.Fprintln(c.out, "  Example: write RATE int 1")
		return
	}
	kind, err := k648x.ParseKind(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	v, err := k648x.ParseValue(kind, strings.Trim(strings.Join(args[2:], " "), "\"'"))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}

	sess, h, err := c.handle(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if err := sess.Write(h, v); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdReport(args []string) {
	verbose := len(args) > 0 && args[0] == "-v"
	sess, err := c.current.Session()
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if err := sess.Report(c.out, verbose); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
}
