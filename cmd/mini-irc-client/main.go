// Command mini-irc-client is the interactive terminal client.
//
// Input starting with "/" is a local control command (connect, disconnect,
// active); input starting with "#" is a protocol command issued on the
// active connection. Anything else prints a help line. Exit with Ctrl-C.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"mini-irc/client"
	"mini-irc/loadbalance"
	"mini-irc/message"
	"mini-irc/protocol"
	"mini-irc/registry"
	"mini-irc/server"
)

const callTimeout = 5 * time.Second

const help = `local commands:
  /connect [host:port]   connect to a server (default: --addr/--port, or via registry)
  /disconnect            close the active connection
  /active [host:port]    show or switch the active connection
protocol commands (on the active connection):
  #identify <name>  #echo <text>  #create_room <room>  #list_rooms
  #join_room <room>  #leave_room <room>  #room_members <room>
  #msg_room <room> <text>  #msg_client <name> <text>`

func main() {
	cmd := &cli.Command{
		Name:  "mini-irc-client",
		Usage: "interactive IRC-style chat client",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "127.0.0.1",
				Usage: "server address to connect to",
			},
			&cli.IntFlag{
				Name:  "port",
				Value: 8888,
				Usage: "server port to connect to",
			},
			&cli.BoolFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "start an in-process server on --addr/--port",
			},
			&cli.StringSliceFlag{
				Name:  "registry-endpoints",
				Usage: "etcd endpoints to discover servers from",
			},
			&cli.StringFlag{
				Name:  "balancer",
				Value: "roundrobin",
				Usage: "server selection strategy: roundrobin, random or hash",
			},
			&cli.StringFlag{
				Name:  "hash-key",
				Usage: "affinity key for the hash balancer (default: local hostname)",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the interactive session state: any number of named connections,
// one of them active.
type app struct {
	cmd      *cli.Command
	log      zerolog.Logger
	sessions map[string]*client.Client
	active   string
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if cmd.Bool("server") {
		s := server.New(server.WithLogger(log.Level(zerolog.WarnLevel)))
		addr := net.JoinHostPort(cmd.String("addr"), strconv.Itoa(int(cmd.Int("port"))))
		if err := s.Listen("tcp", addr); err != nil {
			return err
		}
		go s.Serve()
		defer s.Shutdown(2 * time.Second)
		fmt.Printf("In-process server on %s\n", s.Addr())
	}

	a := &app{
		cmd:      cmd,
		log:      log,
		sessions: make(map[string]*client.Client),
	}
	defer a.closeAll()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	fmt.Println(help)
	for {
		select {
		case <-sig:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			a.handle(strings.TrimSpace(line))
		}
	}
}

func (a *app) handle(line string) {
	switch {
	case line == "":
	case strings.HasPrefix(line, "/"):
		a.local(line)
	case strings.HasPrefix(line, "#"):
		a.protocol(line)
	default:
		fmt.Println(help)
	}
}

func (a *app) local(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/connect":
		target := ""
		if len(fields) > 1 {
			target = fields[1]
		}
		a.connect(target)
	case "/disconnect":
		a.disconnect()
	case "/active":
		if len(fields) > 1 {
			if _, ok := a.sessions[fields[1]]; !ok {
				fmt.Printf("no connection to %s\n", fields[1])
				return
			}
			a.active = fields[1]
		}
		if a.active == "" {
			fmt.Println("no active connection")
			return
		}
		names := make([]string, 0, len(a.sessions))
		for name := range a.sessions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			marker := " "
			if name == a.active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
	default:
		fmt.Println(help)
	}
}

func (a *app) connect(target string) {
	if target == "" {
		var err error
		target, err = a.discoverTarget()
		if err != nil {
			fmt.Printf("connect: %v\n", err)
			return
		}
	}

	c, err := client.Dial("tcp", target, client.WithLogger(a.log))
	if err != nil {
		fmt.Printf("connect: %v\n", err)
		return
	}

	// Durable handlers: server-push frames print whenever they arrive,
	// whether or not a call is in flight.
	c.AddHandler(message.TagBroadcast, func(f *protocol.Frame) {
		room, sender := message.BroadcastSource(f.Header)
		fmt.Printf("[%s] %s: %s\n", room, sender, f.Payload)
	})
	c.AddHandler(message.TagClientMsg, func(f *protocol.Frame) {
		fmt.Printf("(msg) %s: %s\n", f.Header, f.Payload)
	})

	go func() {
		<-c.Disconnected()
		fmt.Printf("disconnected from %s\n", target)
	}()

	a.sessions[target] = c
	a.active = target
	fmt.Printf("connected to %s\n", target)
}

// discoverTarget resolves the connect target: from the registry when
// endpoints are configured, otherwise from the --addr/--port flags.
func (a *app) discoverTarget() (string, error) {
	endpoints := a.cmd.StringSlice("registry-endpoints")
	if len(endpoints) == 0 {
		return net.JoinHostPort(a.cmd.String("addr"), strconv.Itoa(int(a.cmd.Int("port")))), nil
	}

	reg, err := registry.NewEtcdRegistry(endpoints)
	if err != nil {
		return "", err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	instances, err := reg.Discover(ctx)
	if err != nil {
		return "", err
	}

	switch a.cmd.String("balancer") {
	case "random":
		inst, err := (&loadbalance.WeightedRandomBalancer{}).Pick(instances)
		if err != nil {
			return "", err
		}
		return inst.Addr, nil
	case "hash":
		key := a.cmd.String("hash-key")
		if key == "" {
			key, _ = os.Hostname()
		}
		b := loadbalance.NewConsistentHashBalancer()
		for i := range instances {
			b.Add(&instances[i])
		}
		inst, err := b.PickKey(key)
		if err != nil {
			return "", err
		}
		return inst.Addr, nil
	default:
		inst, err := (&loadbalance.RoundRobinBalancer{}).Pick(instances)
		if err != nil {
			return "", err
		}
		return inst.Addr, nil
	}
}

func (a *app) disconnect() {
	c, ok := a.sessions[a.active]
	if !ok {
		fmt.Println("no active connection")
		return
	}
	c.Disconnect()
	delete(a.sessions, a.active)
	a.active = ""
	for name := range a.sessions {
		a.active = name
		break
	}
}

func (a *app) closeAll() {
	for _, c := range a.sessions {
		c.Disconnect()
	}
}

func (a *app) protocol(line string) {
	c, ok := a.sessions[a.active]
	if !ok {
		fmt.Println("not connected; use /connect first")
		return
	}

	fields := strings.Fields(line)
	verb := fields[0]
	args := fields[1:]

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rest := func(from int) []byte {
		return []byte(strings.Join(fields[from:], " "))
	}

	var err error
	switch verb {
	case "#echo":
		var reply string
		reply, err = c.Echo(ctx, string(rest(1)))
		if err == nil {
			fmt.Println(reply)
		}
	case "#identify":
		if len(args) != 1 {
			fmt.Println("usage: #identify <name>")
			return
		}
		err = c.Identify(ctx, args[0])
	case "#create_room":
		if len(args) != 1 {
			fmt.Println("usage: #create_room <room>")
			return
		}
		err = c.CreateRoom(ctx, args[0])
	case "#list_rooms":
		var rooms []string
		rooms, err = c.ListRooms(ctx)
		if err == nil {
			for _, room := range rooms {
				fmt.Println(room)
			}
		}
	case "#join_room":
		if len(args) != 1 {
			fmt.Println("usage: #join_room <room>")
			return
		}
		err = c.JoinRoom(ctx, args[0])
	case "#leave_room":
		if len(args) != 1 {
			fmt.Println("usage: #leave_room <room>")
			return
		}
		err = c.LeaveRoom(ctx, args[0])
	case "#room_members":
		if len(args) != 1 {
			fmt.Println("usage: #room_members <room>")
			return
		}
		var members []string
		members, err = c.RoomMembers(ctx, args[0])
		if err == nil {
			for _, member := range members {
				fmt.Println(member)
			}
		}
	case "#msg_room":
		if len(args) < 2 {
			fmt.Println("usage: #msg_room <room> <text>")
			return
		}
		err = c.MsgRoom(ctx, args[0], rest(2))
	case "#msg_client":
		if len(args) < 2 {
			fmt.Println("usage: #msg_client <name> <text>")
			return
		}
		err = c.MsgClient(ctx, args[0], rest(2))
	case "#terminate":
		a.disconnect()
	default:
		fmt.Println(help)
	}

	if err != nil {
		fmt.Printf("%s: %v\n", verb, err)
	}
}
