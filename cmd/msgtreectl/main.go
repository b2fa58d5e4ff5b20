// Command msgtreectl is an operator tool for a running msgtree system: it
// can discover systems on the local multicast group, remember which one
// to talk to, and dump or checksum one of its databases over the reliable
// stream transport. Flag parsing follows bringyour-connect's connectctl
// (docopt.ParseArgs + opts.Bool/opts.String dispatch); persisted
// connection state and config-file overrides use viper, the way
// Vigneshboobathy-dag_rte loads its service config.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/spf13/viper"

	"github.com/peertree/msgtree/internal/discovery"
	"github.com/peertree/msgtree/internal/errkind"
	"github.com/peertree/msgtree/internal/transport"
)

const version = "0.1.0"

const usage = `msgtreectl: inspect a running msgtree system.

Usage:
    msgtreectl list-systems [--config=<file>] [--group=<addr>] [--wait=<secs>]
    msgtreectl connect <systemName> [--config=<file>] [--group=<addr>] [--wait=<secs>]
    msgtreectl dump <dbIndex> [--addr=<addr>] [--config=<file>]
    msgtreectl checksum <dbIndex> [--addr=<addr>] [--config=<file>]

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<file>    Path to the connection state file [default: ~/.msgtreectl.yaml].
    --group=<addr>      Multicast group to listen on [default: 239.255.0.1:8765].
    --wait=<secs>       Seconds to listen before reporting [default: 2].
    --addr=<addr>       Stream address to talk to, overriding the connected system.

Exit codes: 0 ok, 2 bad argument, 3 timeout, 4 divergence.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	configPath, _ := opts.String("--config")
	v := newViper(configPath)

	var runErr error
	switch {
	case boolOpt(opts, "list-systems"):
		runErr = listSystems(opts)
	case boolOpt(opts, "connect"):
		runErr = connectSystem(opts, v, configPath)
	case boolOpt(opts, "dump"):
		runErr = dumpDatabase(opts, v)
	case boolOpt(opts, "checksum"):
		runErr = checksumDatabase(opts, v)
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
	}
	os.Exit(errkind.ExitCode(runErr))
}

func boolOpt(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(expandHome(configPath))
	v.SetConfigType("yaml")
	_ = v.ReadInConfig() // absent on first run; connect creates it.
	return v
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func waitSeconds(opts docopt.Opts) time.Duration {
	s, _ := opts.String("--wait")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		n = 2
	}
	return time.Duration(n) * time.Second
}

// listSystems listens passively on the multicast group for --wait seconds
// and prints every system advertising itself, per spec.md section 4.5.
func listSystems(opts docopt.Opts) error {
	group, _ := opts.String("--group")
	mc, err := transport.NewUDPMulticast(group)
	if err != nil {
		return err
	}
	defer mc.Close()

	dir := discovery.NewDirectory(0)
	ctx, cancel := context.WithTimeout(context.Background(), waitSeconds(opts))
	defer cancel()
	dir.Listen(ctx, mc)

	systems := dir.Systems()
	if len(systems) == 0 {
		fmt.Println("no systems found")
		return nil
	}
	for _, l := range systems {
		fmt.Printf("%-20s  %s  full=%d junior=%d  %s\n", l.SystemName, l.ReplyAddr, l.FullPeers, l.JuniorPeers, l.Sender)
	}
	return nil
}

// connectSystem listens for an advertisement from systemName and persists
// its reply address to the connection state file so dump/checksum can omit
// --addr.
func connectSystem(opts docopt.Opts, v *viper.Viper, configPath string) error {
	name, _ := opts.String("<systemName>")
	group, _ := opts.String("--group")
	mc, err := transport.NewUDPMulticast(group)
	if err != nil {
		return err
	}
	defer mc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitSeconds(opts))
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return errkind.ErrTimedOut
		case d := <-mc.Discoveries():
			if d.SystemName != name {
				continue
			}
			v.Set("system", d.SystemName)
			v.Set("addr", d.ReplyAddr)
			path := expandHome(configPath)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := v.WriteConfigAs(path); err != nil {
				return err
			}
			fmt.Printf("connected to %s at %s\n", d.SystemName, d.ReplyAddr)
			return nil
		}
	}
}

func resolveAddr(opts docopt.Opts, v *viper.Viper) (string, error) {
	if addr, _ := opts.String("--addr"); addr != "" {
		return addr, nil
	}
	addr := v.GetString("addr")
	if addr == "" {
		return "", errkind.ErrBadArgument
	}
	return addr, nil
}

func dbIndex(opts docopt.Opts) (int, error) {
	s, _ := opts.String("<dbIndex>")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errkind.ErrBadArgument
	}
	return n, nil
}

func dumpDatabase(opts docopt.Opts, v *viper.Viper) error {
	addr, err := resolveAddr(opts, v)
	if err != nil {
		return err
	}
	idx, err := dbIndex(opts)
	if err != nil {
		return err
	}

	st := transport.NewTCPStream()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := st.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	archive, err := conn.RequestArchive(ctx, idx)
	if err != nil {
		return err
	}
	for _, n := range archive.Nodes {
		fmt.Printf("%s\n", n.Path)
	}
	return nil
}

func checksumDatabase(opts docopt.Opts, v *viper.Viper) error {
	addr, err := resolveAddr(opts, v)
	if err != nil {
		return err
	}
	idx, err := dbIndex(opts)
	if err != nil {
		return err
	}

	st := transport.NewTCPStream()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := st.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	sum, err := conn.RequestChecksum(ctx, idx)
	if err != nil {
		return err
	}
	fmt.Printf("%08x\n", sum)
	return nil
}
