// Command dechat-client is the terminal entrypoint for the
// multi-connection chat client (internal/clientcore,
// internal/clientconn): one input loop reading stdin lines, dispatched
// across as many open server connections as the user has /connect'd
// to. Line editing and ANSI redraw are deliberately minimal — per
// spec §1 the interactive terminal itself is an out-of-scope external
// collaborator; this is the thin wiring, not a full readline.
package main

import (
	"bufio"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"dechat/internal/clientcore"
	"dechat/internal/wire"
)

func main() {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	ui := fs.Bool("ui", false, "enable multi-connection mode and redraw the input line after each print")
	nick := fs.String("nick", "anon", "default nickname for outgoing frames")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	disp := &terminalDisplay{ui: *ui}
	client := clientcore.New(*nick, disp)

	fmt.Println("dechat client. /connect <name> <host> <port> to begin; an empty line disconnects the active link (/quit is sent to the server and does not close the link).")

	scanner := bufio.NewScanner(os.Stdin)
	for disp.prompt(); scanner.Scan(); disp.prompt() {
		line := scanner.Text()
		if line == "" {
			if active := client.Active(); active != "" {
				client.Disconnect(active)
			}
			continue
		}
		client.Input(line)
	}
}

// terminalDisplay renders frames and notices to stdout. In --ui mode it
// reprints a "> " prompt after every line so the cursor lands back
// below whatever the listener goroutine just printed — a minimal stand-
// in for the full ANSI line-clear-and-redraw the source client does
// (out of scope here, see the package doc).
type terminalDisplay struct {
	ui bool
}

func (d *terminalDisplay) prompt() {
	if d.ui {
		fmt.Print("> ")
	}
}

func (d *terminalDisplay) ShowFrame(serverName string, f wire.Frame) {
	if f.ChannelID == wire.ServerChannelID {
		fmt.Printf("\n[%s] %s\n", serverName, f.Payload)
	} else {
		fmt.Printf("\n[%s] %s: %s\n", serverName, f.Nickname, f.Payload)
	}
	d.prompt()
}

func (d *terminalDisplay) ShowNotice(text string) {
	fmt.Printf("\n*** %s\n", text)
	d.prompt()
}
