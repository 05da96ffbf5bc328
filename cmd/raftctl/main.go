package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/raftd/client"
)

func main() {
	var (
		addrs     = flag.String("addrs", "127.0.0.1:9289", "Comma-separated node addresses")
		adminAddr = flag.String("admin", "127.0.0.1:9389", "Admin rpc address of one node")
		command   = flag.String("command", "", "Command: send, set, delete, reconfig, status, get")
		key       = flag.String("key", "", "Key for set, delete and get")
		value     = flag.String("value", "", "Value for set, payload for send")
		peers     = flag.String("peers", "", "New membership for reconfig, id=host:port,...")
		timeout   = flag.Duration("timeout", 5*time.Second, "Request timeout")
		verbose   = flag.Bool("v", false, "Log client activity")
	)
	flag.Parse()

	if *command == "" {
		fmt.Fprintf(os.Stderr, "Error: -command is required\n")
		os.Exit(1)
	}
	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch *command {
	case "send", "set", "delete", "reconfig":
		err = submit(ctx, *command, strings.Split(*addrs, ","), *key, *value, *peers, l)
	case "status", "get":
		err = query(ctx, *command, *adminAddr, *key)
	default:
		err = fmt.Errorf("unknown command: %s", *command)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, command string, addrs []string, key, value, peers string, l *slog.Logger) error {
	c := client.New(addrs, l)
	defer c.Close()

	var (
		id  string
		err error
	)
	switch command {
	case "send":
		id, err = c.Send(ctx, []byte(value))
	case "set":
		if key == "" {
			return fmt.Errorf("-key is required for set")
		}
		id, err = c.Set(ctx, key, []byte(value))
	case "delete":
		if key == "" {
			return fmt.Errorf("-key is required for delete")
		}
		id, err = c.Delete(ctx, key)
	case "reconfig":
		var set map[string]string
		set, err = parsePeers(peers)
		if err != nil {
			return err
		}
		id, err = c.UpdatePeers(ctx, set)
	}
	if err != nil {
		return err
	}
	fmt.Printf("accepted %s\n", id)
	return nil
}

func query(ctx context.Context, command, addr, key string) error {
	a, err := client.DialAdmin(addr)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "status":
		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
	case "get":
		v, ok, err := a.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		fmt.Println(string(v))
	}
	return nil
}

// parsePeers reads "a=127.0.0.1:9289,b=127.0.0.1:9290".
func parsePeers(s string) (map[string]string, error) {
	set := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("bad peer %q, want id=host:port", part)
		}
		set[id] = addr
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("-peers is required for reconfig")
	}
	return set, nil
}
