// foldctl inspects and manages chatfold session caches.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/gabrielsou/chatfold/internal/session"
	"github.com/gabrielsou/chatfold/internal/store"
	"github.com/gabrielsou/chatfold/internal/tl"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := store.Open(session.CacheDBPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot open cache for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: migrate cache: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "status":
		cmdStatus(db, sessionName, *jsonFlag)
	case "filters":
		cmdFilters(db, *jsonFlag)
	case "peers":
		cmdPeers(db, *jsonFlag)
	case "clear":
		cmdClear(db)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: foldctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status    Show cache status for the session")
	fmt.Fprintln(os.Stderr, "  filters   List cached folders")
	fmt.Fprintln(os.Stderr, "  peers     List cached peers")
	fmt.Fprintln(os.Stderr, "  clear     Drop the cached folder list")
}

func cmdStatus(db *store.DB, sessionName string, jsonOut bool) {
	filters, err := db.FilterCount()
	if err != nil {
		fatal(err)
	}
	peers, err := db.PeerCount()
	if err != nil {
		fatal(err)
	}
	tags := false
	if v, ok, err := db.GetMeta("tags_enabled"); err != nil {
		fatal(err)
	} else if ok {
		tags, _ = strconv.ParseBool(v)
	}
	cachedAt := ""
	if v, ok, err := db.GetMeta("filters_cached_at"); err != nil {
		fatal(err)
	} else if ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cachedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339)
		}
	}

	if jsonOut {
		outputJSON(map[string]any{
			"session":   sessionName,
			"filters":   filters,
			"peers":     peers,
			"tags":      tags,
			"cached_at": cachedAt,
		})
		return
	}
	fmt.Printf("Session:   %s\n", sessionName)
	fmt.Printf("Filters:   %d\n", filters)
	fmt.Printf("Peers:     %d\n", peers)
	fmt.Printf("Tags:      %v\n", tags)
	if cachedAt != "" {
		fmt.Printf("Cached at: %s\n", cachedAt)
	} else {
		fmt.Println("Cached at: never")
	}
}

func cmdFilters(db *store.DB, jsonOut bool) {
	recs, _, ok, err := db.LoadFilters()
	if err != nil {
		fatal(err)
	}
	if !ok {
		fmt.Println("No cached folder list.")
		return
	}
	if jsonOut {
		outputJSON(recs)
		return
	}
	for _, rec := range recs {
		kind := "dialog"
		if rec.Kind == tl.FilterKindChatlist {
			kind = "chatlist"
		}
		fmt.Printf("%4d  %-8s  %-24s  pinned=%d include=%d exclude=%d\n",
			rec.ID, kind, rec.Title,
			len(rec.PinnedPeers), len(rec.IncludePeers), len(rec.ExcludePeers))
	}
}

func cmdPeers(db *store.DB, jsonOut bool) {
	peers, err := db.ListPeers()
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(peers)
		return
	}
	for _, p := range peers {
		extra := ""
		if p.Self {
			extra = " (self)"
		}
		fmt.Printf("%12d  %-8s  %s%s\n", p.ID, p.Kind, p.Name, extra)
	}
}

func cmdClear(db *store.DB) {
	if err := db.ClearFilters(); err != nil {
		fatal(err)
	}
	fmt.Println("Cached folder list dropped.")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
