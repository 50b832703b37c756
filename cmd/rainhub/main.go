package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/log"
	"github.com/cenkalti/rainhub/engine/anacrolix"
	"github.com/cenkalti/rainhub/internal/console"
	"github.com/cenkalti/rainhub/internal/descriptor"
	"github.com/cenkalti/rainhub/internal/jsonutil"
	"github.com/cenkalti/rainhub/internal/logger"
	"github.com/cenkalti/rainhub/rpcclient"
	"github.com/cenkalti/rainhub/server"
	"github.com/cenkalti/rainhub/transfer"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/urfave/cli"
)

var (
	app = cli.NewApp()
	clt *rpcclient.RPCClient
)

func main() {
	app.Name = "rainhub"
	app.Usage = "BitTorrent transfer server with a remote API"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.rainhub.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log `LEVEL`: debug, info, notice, warning or error",
			Value: "info",
		},
		cli.BoolFlag{
			Name:  "no-color",
			Usage: "print JSON output without colors",
		},
	}
	app.Before = handleBeforeCommand
	app.Commands = []cli.Command{
		{
			Name:   "server",
			Usage:  "run the transfer server",
			Action: handleServer,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "host", Usage: "listen `HOST` for API requests"},
				cli.IntFlag{Name: "port", Usage: "listen `PORT` for API requests"},
				cli.StringFlag{Name: "data-dir", Usage: "keep transfers under `DIR`"},
			},
		},
		{
			Name:  "client",
			Usage: "send a request to a running server",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "url",
					Usage: "server URL",
					Value: "http://127.0.0.1:7246",
				},
			},
			Before: handleBeforeClient,
			After:  handleAfterClient,
			Subcommands: []cli.Command{
				{
					Name:   "list",
					Usage:  "list transfers",
					Action: handleList,
				},
				{
					Name:      "add",
					Usage:     "add a transfer from a descriptor file",
					ArgsUsage: "FILE",
					Action:    handleAdd,
				},
				{
					Name:      "status",
					Usage:     "show compact status of a transfer",
					ArgsUsage: "REF",
					Action:    handleStatus,
					Flags: []cli.Flag{
						cli.BoolFlag{Name: "json", Usage: "print every field"},
					},
				},
				{
					Name:      "stop",
					Usage:     "stop a transfer and delete its files",
					ArgsUsage: "REF",
					Action:    handleRefAction((*rpcclient.RPCClient).StopTransfer),
				},
				{
					Name:      "pause",
					Usage:     "pause a transfer",
					ArgsUsage: "REF",
					Action:    handleRefAction((*rpcclient.RPCClient).PauseTransfer),
				},
				{
					Name:      "resume",
					Usage:     "resume a transfer",
					ArgsUsage: "REF",
					Action:    handleRefAction((*rpcclient.RPCClient).ResumeTransfer),
				},
				{
					Name:      "files",
					Usage:     "list files of a transfer",
					ArgsUsage: "REF",
					Action:    handleFiles,
				},
				{
					Name:      "download",
					Usage:     "download a single file of a transfer, or all files as a zip archive without INDEX",
					ArgsUsage: "REF [INDEX]",
					Action:    handleDownload,
					Flags: []cli.Flag{
						cli.StringFlag{Name: "output, o", Usage: "save into `DIR`", Value: "."},
					},
				},
				{
					Name:      "limit-download",
					Usage:     "limit download rate in bytes per second, 0 removes the limit",
					ArgsUsage: "REF RATE",
					Action:    handleLimit((*rpcclient.RPCClient).SetDownloadLimit),
				},
				{
					Name:      "limit-upload",
					Usage:     "limit upload rate in bytes per second, 0 removes the limit",
					ArgsUsage: "REF RATE",
					Action:    handleLimit((*rpcclient.RPCClient).SetUploadLimit),
				},
				{
					Name:   "console",
					Usage:  "show live status of transfers",
					Action: handleConsole,
				},
			},
		},
		{
			Name:      "create",
			Usage:     "create a descriptor file from a file or directory",
			ArgsUsage: "PATH",
			Action:    handleCreate,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "output, o", Usage: "write to `FILE`, defaults to <name>.torrent"},
				cli.IntFlag{Name: "piece-length", Usage: "piece length in bytes", Value: descriptor.DefaultPieceLength},
				cli.BoolFlag{Name: "private", Usage: "disable DHT and PEX"},
				cli.StringSliceFlag{Name: "tracker, t", Usage: "tracker `URL`, may be repeated"},
				cli.StringFlag{Name: "comment", Usage: "comment field"},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	level, err := logger.ParseLevel(c.GlobalString("log-level"))
	if err != nil {
		return err
	}
	if c.GlobalBool("debug") {
		level = log.DEBUG
	}
	logger.SetLevel(level)
	jsonutil.SetColor(!c.GlobalBool("no-color"))
	return nil
}

func handleServer(c *cli.Context) error {
	cfg, err := transfer.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if c.IsSet("host") {
		cfg.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if err = cfg.Expand(); err != nil {
		return err
	}
	if err = os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return err
	}

	eng, err := anacrolix.New(anacrolix.Config{
		DataDir:           cfg.DataDir,
		PortBegin:         cfg.PortBegin,
		PortEnd:           cfg.PortEnd,
		NoDHT:             !cfg.DHTEnabled,
		NoPortForwarding:  !cfg.PortForwardingEnabled,
		Seed:              cfg.Seed,
		MaxDescriptorSize: cfg.MaxDescriptorSize,
	})
	if err != nil {
		return err
	}
	lg := logger.New("rainhub")
	m, err := transfer.New(cfg, eng, osfs.New(cfg.DataDir))
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			lg.Errorln("cannot close manager:", err)
		}
	}()

	srv := server.New(m)
	if err = srv.Start(cfg.Host, cfg.Port); err != nil {
		return err
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	s := <-ch
	lg.Notice("received ", s, ", stopping server")

	return srv.Stop(cfg.ShutdownTimeout)
}

func handleBeforeClient(c *cli.Context) error {
	clt = rpcclient.New(c.String("url"))
	return nil
}

func handleAfterClient(c *cli.Context) error {
	if clt == nil {
		return nil
	}
	return clt.Close()
}

func refArg(c *cli.Context) (string, error) {
	ref := c.Args().Get(0)
	if ref == "" {
		return "", errors.New("transfer index or ID is required")
	}
	return ref, nil
}

func handleList(c *cli.Context) error {
	transfers, err := clt.ListTransfers()
	if err != nil {
		return err
	}
	for _, t := range transfers {
		fmt.Printf("%d\t%s\t%s\n", t.Index, t.ID, t.Name)
	}
	return nil
}

func handleAdd(c *cli.Context) error {
	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	t, err := clt.AddTransfer(f)
	if err != nil {
		return err
	}
	fmt.Printf("Transfer %q added at index %d with ID %s\n", t.Name, t.Index, t.ID)
	return nil
}

func handleStatus(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	if !c.Bool("json") {
		line, err := clt.GetStatusLine(ref)
		if err != nil {
			return err
		}
		fmt.Println(line)
		return nil
	}
	st, err := clt.GetStatus(ref)
	if err != nil {
		return err
	}
	b, err := jsonutil.MarshalPretty(st)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(b, '\n'))
	return err
}

func handleRefAction(fn func(*rpcclient.RPCClient, string) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		ref, err := refArg(c)
		if err != nil {
			return err
		}
		return fn(clt, ref)
	}
}

func handleFiles(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	files, err := clt.GetFiles(ref)
	if err != nil {
		return err
	}
	for i, f := range files {
		b, err := jsonutil.MarshalCompactPretty(f)
		if err != nil {
			return err
		}
		fmt.Printf("#%d\n%s", i, b)
	}
	return nil
}

func handleDownload(c *cli.Context) error {
	ref, err := refArg(c)
	if err != nil {
		return err
	}
	fetch := func(w io.Writer) (string, error) { return clt.DownloadArchive(ref, w) }
	if s := c.Args().Get(1); s != "" {
		index, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid file index: %s", s)
		}
		fetch = func(w io.Writer) (string, error) { return clt.DownloadFile(ref, index, w) }
	}
	p, err := downloadTo(c.String("output"), fetch)
	if err != nil {
		return err
	}
	fmt.Println("saved", p)
	return nil
}

// downloadTo streams the response of fetch into a temporary file in dir,
// then renames it to the name reported by the server.
func downloadTo(dir string, fetch func(io.Writer) (string, error)) (string, error) {
	tmp, err := os.CreateTemp(dir, ".rainhub-download-")
	if err != nil {
		return "", err
	}
	var success bool
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	name, err := fetch(tmp)
	if err != nil {
		return "", err
	}
	if err = tmp.Chmod(0o640); err != nil {
		return "", err
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filepath.Base(name))
	if err = os.Rename(tmp.Name(), p); err != nil {
		return "", err
	}
	success = true
	return p, nil
}

func handleLimit(fn func(*rpcclient.RPCClient, string, int64) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		ref, err := refArg(c)
		if err != nil {
			return err
		}
		rate, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rate: %q", c.Args().Get(1))
		}
		return fn(clt, ref, rate)
	}
}

func handleConsole(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clt.WaitReady(ctx); err != nil {
		return fmt.Errorf("server is not reachable: %w", err)
	}
	// Log lines would corrupt the terminal UI.
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()
	logger.SetHandler(log.NewFileHandler(devnull))
	return console.New(clt).Run()
}

func handleCreate(c *cli.Context) error {
	root, err := filepath.Abs(c.Args().Get(0))
	if err != nil {
		return err
	}
	var trackers [][]string
	for _, t := range c.StringSlice("tracker") {
		trackers = append(trackers, []string{t})
	}
	b, err := descriptor.Create(osfs.New(filepath.Dir(root)), filepath.Base(root), descriptor.CreateOptions{
		PieceLength: uint32(c.Int("piece-length")),
		Private:     c.Bool("private"),
		Trackers:    trackers,
		Comment:     c.String("comment"),
	})
	if err != nil {
		return err
	}
	out := c.String("output")
	if out == "" {
		out = filepath.Base(root) + ".torrent"
	}
	if err = os.WriteFile(out, b, 0o640); err != nil {
		return err
	}
	fmt.Println("created", out)
	return nil
}
