// Command dechat runs the federated text-chat server: the tick-driven
// hub (internal/hub), its optional REST introspection API
// (internal/httpapi), and process metrics (internal/metricsexp). A
// handful of subcommands run without starting the hub: status, links,
// settings and backup read the SQLite link/audit store directly, and
// channels asks an already running server's REST API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"dechat/internal/hub"
	"dechat/internal/httpapi"
	"dechat/internal/store"
)

// Version is printed by the "dechat version" and "dechat status" subcommands.
const Version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] != "serve" {
		if RunCLI(os.Args[1:], "dechat.db") {
			return
		}
	}

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "serve" {
		args = args[1:]
	}
	runServe(args)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "localhost", "bind hostname")
	port := fs.Int("port", 9996, "bind port")
	autoRetry := fs.Bool("auto-retry", false, "keep retrying Run after a transport error instead of exiting")
	apiAddr := fs.String("api-addr", ":8080", "REST introspection API listen address (empty to disable)")
	dbPath := fs.String("db", "dechat.db", "SQLite path for the link/audit store")
	configDir := fs.String("config-dir", "config", "directory containing MOTD.txt/HELP.txt/RULES.txt overrides")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("[dechat] %v", err)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	srv := hub.New(*host, *port, *configDir)
	applyPersistedSettings(srv, st)

	srv.SetAuditHook(func(actorNick, action, target, details string) {
		id := uuid.New().String()
		if err := st.RecordAudit(context.Background(), store.AuditEntry{
			ActorNick: actorNick, Action: action, Target: target, Details: details,
		}); err != nil {
			log.Printf("[audit %s] insert: %v", id, err)
		}
	})
	srv.SetLinkEdgeHook(func(channelName, peerHost string, peerPort int, remoteChannelID uint16, outgoing bool) {
		id := uuid.New().String()
		if err := st.RecordLinkEdge(context.Background(), store.LinkEdge{
			ChannelName: channelName, PeerHost: peerHost, PeerPort: peerPort,
			RemoteChannelID: remoteChannelID, Outgoing: outgoing,
		}); err != nil {
			log.Printf("[link %s] insert: %v", id, err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[dechat] shutting down...")
		srv.Quit()
		cancel()
	}()

	if *apiAddr != "" {
		api := httpapi.New(srv, st)
		go api.Run(ctx, *apiAddr)
		log.Printf("[dechat] REST API listening on %s", *apiAddr)
	}

	for {
		err := srv.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Printf("[dechat] serve: %v", err)
		if !*autoRetry {
			log.Fatalf("[dechat] exiting (pass --auto-retry to keep retrying)")
		}
		time.Sleep(3 * time.Second)
	}
}

// applyPersistedSettings overrides the config-file-loaded motd/help/rules
// with whatever an operator has set via "dechat settings set", if present.
func applyPersistedSettings(srv *hub.Server, st *store.Store) {
	ctx := context.Background()
	if v, ok, _ := st.GetSetting(ctx, "motd"); ok {
		srv.SetMOTD(v)
	}
	if v, ok, _ := st.GetSetting(ctx, "help"); ok {
		srv.SetHelp(v)
	}
	if v, ok, _ := st.GetSetting(ctx, "rules"); ok {
		srv.SetRules(v)
	}
}
