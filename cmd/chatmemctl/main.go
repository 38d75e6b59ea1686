// Command chatmemctl inspects and edits persisted chat history.
//
//	chatmemctl [-config file] show <user_id> [session_id]
//	chatmemctl [-config file] delete <user_id> <session_id>
//	chatmemctl [-config file] ping
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/smallnest/chatmemory/config"
	"github.com/smallnest/chatmemory/log"
	"github.com/smallnest/chatmemory/memory"
	"github.com/smallnest/chatmemory/store"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	botStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chatmemctl [-config file] show <user_id> [session_id]\n")
	fmt.Fprintf(os.Stderr, "       chatmemctl [-config file] delete <user_id> <session_id>\n")
	fmt.Fprintf(os.Stderr, "       chatmemctl [-config file] ping\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "path to the config file (default ./config.yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := run(context.Background(), *configPath, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	backing, err := cfg.Store.OpenStore(ctx, cfg.Memory.StoreTimeout)
	if err != nil {
		return err
	}
	mem := memory.New(backing, memory.WithLogger(&log.NoOpLogger{}))
	defer mem.Close()

	switch args[0] {
	case "show":
		switch len(args) {
		case 2:
			return showUser(ctx, mem, args[1], out)
		case 3:
			printSession(out, args[2], mem.Read(ctx, args[1], args[2]))
			return nil
		}
	case "delete":
		if len(args) == 3 {
			if !mem.Delete(ctx, args[1], args[2]) {
				return fmt.Errorf("no history for %s", store.NewKey(args[1], args[2]))
			}
			fmt.Fprintln(out, okStyle.Render("deleted ")+store.NewKey(args[1], args[2]).String())
			return nil
		}
	case "ping":
		if len(args) == 1 {
			return ping(ctx, cfg.Store.Backend, backing, out)
		}
	}

	usage()
	return fmt.Errorf("invalid arguments: %v", args)
}

func showUser(ctx context.Context, mem *memory.SessionMemory, userID string, out io.Writer) error {
	sessions := mem.ReadAll(ctx, userID)
	if mem.Stats().StoreErrors["read_by_user"] > 0 {
		return fmt.Errorf("history store unavailable")
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, dimStyle.Render("no sessions for "+userID))
		return nil
	}

	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printSession(out, id, sessions[id])
	}
	return nil
}

func printSession(out io.Writer, sessionID string, history []store.Entry) {
	fmt.Fprintln(out, titleStyle.Render("session "+sessionID)+dimStyle.Render(fmt.Sprintf(" (%d messages)", len(history))))
	for _, e := range history {
		style := botStyle
		if e.Role == store.RoleUser {
			style = userStyle
		}
		fmt.Fprintf(out, "  %s %s\n", style.Render(e.Role.Title()+":"), e.Message)
	}
}

// ping reads a key that is never written, which exercises the connection
// and the query path without touching real sessions.
func ping(ctx context.Context, backend string, s store.HistoryStore, out io.Writer) error {
	start := time.Now()
	if _, _, err := s.History(ctx, store.NewKey("chatmemctl", "ping")); err != nil {
		return fmt.Errorf("%s store: %w", backend, err)
	}
	fmt.Fprintf(out, "%s %s store answered in %s\n", okStyle.Render("ok"), backend, time.Since(start).Round(time.Millisecond))
	return nil
}
