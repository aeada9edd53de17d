package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"dechat/internal/store"
)

// RunCLI handles every subcommand except "serve" (the default when no
// subcommand is given). Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("dechat %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "channels":
		return cliChannels(args[1:])
	case "links":
		return cliLinks(args[1:], dbPath)
	case "settings":
		return cliSettings(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openCLIStore(dbPath string) *store.Store {
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	ctx := context.Background()
	audits, _ := st.RecentAudit(ctx, 1)
	links, _ := st.AllLinkEdges(ctx)

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Recorded link edges: %d\n", len(links))
	fmt.Printf("Has audit history: %t\n", len(audits) > 0)
	fmt.Printf("Version: %s\n", Version)
	return true
}

// cliChannels asks a running server's REST API for its live channel
// list — channel membership is in-memory only, so there is nothing for
// this subcommand to read from the database.
func cliChannels(args []string) bool {
	apiAddr := "http://localhost:8080"
	if len(args) > 0 {
		apiAddr = args[0]
	}

	resp, err := http.Get(apiAddr + "/channels")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error contacting %s: %v\n", apiAddr, err)
		fmt.Fprintln(os.Stderr, "Usage: dechat channels [api-addr]  (server must be running)")
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var out struct {
		Channels []string `json:"channels"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		os.Exit(1)
	}
	if len(out.Channels) == 0 {
		fmt.Println("No channels exist yet.")
		return true
	}
	for _, name := range out.Channels {
		fmt.Printf("  %s\n", name)
	}
	return true
}

func cliLinks(args []string, dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	ctx := context.Background()
	var (
		edges []store.LinkEdge
		err   error
	)
	if len(args) > 0 {
		edges, err = st.LinkEdgesForChannel(ctx, args[0])
	} else {
		edges, err = st.AllLinkEdges(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(edges) == 0 {
		fmt.Println("No recorded link edges.")
		return true
	}
	for _, e := range edges {
		dir := "outgoing"
		if !e.Outgoing {
			dir = "incoming"
		}
		fmt.Printf("  %s -> %s:%d (remote id %d, %s, %s)\n", e.ChannelName, e.PeerHost, e.PeerPort, e.RemoteChannelID, dir, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return true
}

func cliSettings(args []string, dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()
	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		settings, err := st.AllSettings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(settings, "", "  ")
		fmt.Println(string(out))
		return true
	}

	if args[0] == "set" && len(args) > 2 {
		key, value := args[1], args[2]
		if err := st.SetSetting(ctx, key, value); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Set %s = %s (takes effect on next serve)\n", key, value)
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: dechat settings [list|set <key> <value>]")
	os.Exit(1)
	return true
}

func cliBackup(args []string, dbPath string) bool {
	st := openCLIStore(dbPath)
	defer st.Close()

	outPath := "dechat-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := st.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
