package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roomctl/internal/api"
	"roomctl/internal/config"
	"roomctl/internal/device"
	"roomctl/internal/discovery"
	"roomctl/internal/journal"
	"roomctl/internal/model"
	"roomctl/internal/poll"
	"roomctl/internal/server"
	"roomctl/internal/supervisor"
)

const usage = `roomctl - multiroom speaker hub and CLI

Usage:
  roomctl serve --config <path>
  roomctl status [--hub <url>]
  roomctl join --master <id> --members <id,id,...> [--hub <url>]
  roomctl leave --node <id> [--hub <url>]
  roomctl volume --master <id> --level <0-100> [--hub <url>]
  roomctl play --node <id> [--hub <url>]
  roomctl pause --node <id> [--hub <url>]
  roomctl stop --node <id> [--hub <url>]
  roomctl set-volume --node <id> --level <0-100> [--hub <url>]
  roomctl mute --node <id> [--off] [--hub <url>]
  roomctl watch [--hub <url>]
`

const defaultHub = "http://127.0.0.1:7767"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "serve":
		handleServe(os.Args[2:])
	case "status":
		handleStatus(os.Args[2:])
	case "join":
		handleJoin(os.Args[2:])
	case "leave":
		handleLeave(os.Args[2:])
	case "volume":
		handleVolume(os.Args[2:])
	case "play", "pause", "stop":
		handleTransport(cmd, os.Args[2:])
	case "set-volume":
		handleSetVolume(os.Args[2:])
	case "mute":
		handleMute(os.Args[2:])
	case "watch":
		handleWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address override")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	client := device.NewHTTPClient(cfg.Device.Timeout())
	sup := supervisor.New(client, poll.Config{
		FastInterval:     cfg.Poll.FastInterval(),
		SlowInterval:     cfg.Poll.SlowInterval(),
		FailureThreshold: cfg.Poll.FailureThreshold,
	})
	for _, sp := range cfg.Speakers {
		sup.AddNode(model.Node{ID: sp.ID, Name: sp.Name, Address: sp.Address})
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{
			Dir:       cfg.Journal.Dir,
			Outputs:   cfg.Journal.Outputs,
			QueueSize: cfg.Journal.QueueSize,
		})
		if err != nil {
			fatal(err)
		}
		defer j.Close()
		sup.Engine().OnChange(func(c model.Change) { _ = j.Record(c) })
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.Discovery.Enabled {
		browser := discovery.NewBrowser(cfg.Discovery.Service, cfg.Discovery.Domain, sup.AddNode)
		go func() {
			if err := browser.Run(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "discovery stopped: %v\n", err)
			}
		}()
	}

	srv := server.NewServer(cfg.Listen, sup.Registry(), sup.Coordinator(), client, sup, sup.Broadcaster())
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			fatal(err)
		}
	}()

	sup.Run(ctx)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	_ = fs.Parse(args)

	client := api.NewClient(normalizeBaseURL(*hub))
	resp, err := client.Nodes(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(resp.Nodes) == 0 {
		fmt.Fprintln(os.Stdout, "no registered speakers")
		return
	}

	fmt.Fprintf(os.Stdout, "%-14s  %-14s  %-5s  %-8s  %-4s  %-7s  %-14s  %-20s\n",
		"ID", "NAME", "AVAIL", "PLAYBACK", "VOL", "ROLE", "GROUP", "LAST_SEEN")
	for _, n := range resp.Nodes {
		group := n.MasterID
		if len(n.MemberIDs) > 0 {
			group = strings.Join(n.MemberIDs, ",")
		}
		role := n.Role
		if n.PendingRole != "" && n.PendingRole != n.Role {
			role = n.Role + ">" + n.PendingRole
		}
		lastSeen := ""
		if !n.LastSeen.IsZero() {
			lastSeen = n.LastSeen.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "%-14s  %-14s  %-5t  %-8s  %-4d  %-7s  %-14s  %-20s\n",
			n.ID, n.Name, n.Available, n.Playback, n.Volume, role, group, lastSeen)
	}
}

func handleJoin(args []string) {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	master := fs.String("master", "", "master node ID")
	members := fs.String("members", "", "comma-separated candidate IDs")
	_ = fs.Parse(args)

	if *master == "" || *members == "" {
		fatal(errors.New("--master and --members are required"))
	}

	client := api.NewClient(normalizeBaseURL(*hub))
	resp, err := client.Join(context.Background(), api.JoinRequest{
		MasterID:   *master,
		Candidates: splitList(*members),
	})
	if err != nil {
		fatal(err)
	}

	for _, m := range resp.Results {
		if m.OK {
			fmt.Fprintf(os.Stdout, "joined %s -> %s\n", m.NodeID, resp.MasterID)
		} else {
			fmt.Fprintf(os.Stdout, "failed %s: %s\n", m.NodeID, m.Error)
		}
	}
}

func handleLeave(args []string) {
	fs := flag.NewFlagSet("leave", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	node := fs.String("node", "", "node ID")
	_ = fs.Parse(args)

	if *node == "" {
		fatal(errors.New("--node is required"))
	}

	client := api.NewClient(normalizeBaseURL(*hub))
	if err := client.Leave(context.Background(), api.LeaveRequest{NodeID: *node}); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "left %s\n", *node)
}

func handleVolume(args []string) {
	fs := flag.NewFlagSet("volume", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	master := fs.String("master", "", "master node ID")
	level := fs.Int("level", -1, "target level 0-100")
	_ = fs.Parse(args)

	if *master == "" || *level < 0 {
		fatal(errors.New("--master and --level are required"))
	}

	client := api.NewClient(normalizeBaseURL(*hub))
	resp, err := client.GroupVolume(context.Background(), api.GroupVolumeRequest{
		MasterID: *master,
		Level:    *level,
	})
	if err != nil {
		fatal(err)
	}

	for _, t := range resp.Targets {
		if t.OK {
			fmt.Fprintf(os.Stdout, "%s -> %d\n", t.NodeID, t.Target)
		} else {
			fmt.Fprintf(os.Stdout, "failed %s: %s\n", t.NodeID, t.Error)
		}
	}
}

func handleTransport(action string, args []string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	node := fs.String("node", "", "node ID")
	_ = fs.Parse(args)

	if *node == "" {
		fatal(errors.New("--node is required"))
	}

	sendCommand(*hub, api.CommandRequest{NodeID: *node, Action: action})
}

func handleSetVolume(args []string) {
	fs := flag.NewFlagSet("set-volume", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	node := fs.String("node", "", "node ID")
	level := fs.Int("level", -1, "target level 0-100")
	_ = fs.Parse(args)

	if *node == "" || *level < 0 {
		fatal(errors.New("--node and --level are required"))
	}

	sendCommand(*hub, api.CommandRequest{NodeID: *node, Action: "set_volume", Volume: level})
}

func handleMute(args []string) {
	fs := flag.NewFlagSet("mute", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	node := fs.String("node", "", "node ID")
	off := fs.Bool("off", false, "unmute instead of mute")
	_ = fs.Parse(args)

	if *node == "" {
		fatal(errors.New("--node is required"))
	}

	mute := !*off
	sendCommand(*hub, api.CommandRequest{NodeID: *node, Action: "set_mute", Mute: &mute})
}

func sendCommand(hub string, req api.CommandRequest) {
	client := api.NewClient(normalizeBaseURL(hub))
	resp, err := client.Command(context.Background(), req)
	if err != nil {
		fatal(err)
	}
	if resp.RoutedTo != resp.NodeID {
		fmt.Fprintf(os.Stdout, "%s %s (routed to master %s)\n", req.Action, resp.NodeID, resp.RoutedTo)
		return
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", req.Action, resp.NodeID)
}

func handleWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	hub := fs.String("hub", defaultHub, "hub base URL")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	client := api.NewClient(normalizeBaseURL(*hub))
	events, err := client.Events(ctx)
	if err != nil {
		fatal(err)
	}

	fmt.Fprintln(os.Stdout, "watching for changes (ctrl-c to stop)")
	for msg := range events {
		fmt.Fprintf(os.Stdout, "%s changed node=%s\n", time.Now().UTC().Format(time.RFC3339), msg.NodeID)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeBaseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		cancel()
	}()
	return ctx, cancel
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
