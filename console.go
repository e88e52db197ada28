package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"remotectl/link"
	"remotectl/models"
)

// consoleSession is the part of session.Controller the console drives.
type consoleSession interface {
	OnTogglePressed() error
	OnCommandTriggered(cmd link.Command) bool
	SelectPeer(id string) error
	SelectedPeer() (models.Peer, bool)
	Peers() []models.Peer
	CurrentStatusText() string
}

const consoleHelp = `commands:
  left | l            send MoveLeft
  right | r           send MoveRight
  toggle | t          connect the selected peer, or disconnect
  peers               list known peers
  select <id>         choose the peer to connect
  discover            run one discovery window
  status              print the link status
  quit                exit`

// runConsole reads one command per line from in until EOF, "quit" or ctx ends.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, sess consoleSession, discover func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	fmt.Fprintln(out, `type "help" for commands`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := handleConsoleLine(ctx, strings.TrimSpace(line), out, sess, discover); quit {
				return nil
			}
		}
	}
}

func handleConsoleLine(ctx context.Context, line string, out io.Writer, sess consoleSession, discover func(context.Context) error) bool {
	if line == "" {
		return false
	}
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	arg = strings.TrimSpace(arg)

	switch verb {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(out, consoleHelp)
	case "toggle", "t":
		if err := sess.OnTogglePressed(); err != nil {
			fmt.Fprintf(out, "toggle: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "status: %s\n", sess.CurrentStatusText())
	case "status":
		fmt.Fprintf(out, "status: %s\n", sess.CurrentStatusText())
	case "peers":
		printPeers(out, sess)
	case "select":
		if arg == "" {
			fmt.Fprintln(out, "select: peer id required")
			return false
		}
		if err := sess.SelectPeer(arg); err != nil {
			fmt.Fprintf(out, "select: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "selected %s\n", arg)
	case "discover":
		if discover == nil {
			fmt.Fprintln(out, "discover: no discovery sources running")
			return false
		}
		if err := discover(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "discover: %v\n", err)
		}
		printPeers(out, sess)
	default:
		cmd, err := link.ParseCommand(verb)
		if err != nil {
			fmt.Fprintf(out, "unknown command %q\n", verb)
			return false
		}
		if !sess.OnCommandTriggered(cmd) {
			fmt.Fprintf(out, "%s not sent: %s\n", cmd, sess.CurrentStatusText())
		}
	}
	return false
}

func printPeers(out io.Writer, sess consoleSession) {
	peers := sess.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(out, "no known peers")
		return
	}
	selected, _ := sess.SelectedPeer()
	for _, peer := range peers {
		marker := " "
		if peer.ID == selected.ID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %s  %s\n", marker, peer.ID, peer.DisplayName(), peer.Address)
	}
}
