// cmd/mount_unix.go

package main

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"ChunkFS/pkg/chunk"
	"ChunkFS/pkg/compress"
	"ChunkFS/pkg/fuse"
	"ChunkFS/pkg/utils"
	"ChunkFS/pkg/vfs"
	"github.com/juicedata/godaemon"
	"github.com/urfave/cli/v2"
)

func mountCommand() *cli.Command {
	return &cli.Command{
		Name:      "mount",
		Usage:     "mount ROOT at MOUNTPOINT with a chunk cache in BACKING",
		ArgsUsage: "ROOT BACKING MOUNTPOINT",
		Action:    mount,
		Flags:     mountFlags(),
	}
}

// isMounted reports whether mp is the root of a filesystem other than the
// one holding its parent directory.
func isMounted(mp string) bool {
	var st, parent syscall.Stat_t
	if err := syscall.Stat(mp, &st); err != nil {
		return false
	}
	if err := syscall.Stat(filepath.Dir(mp), &parent); err != nil {
		return false
	}
	return st.Dev != parent.Dev
}

func checkMountpoint(mp string) {
	for i := 0; i < 20; i++ {
		time.Sleep(time.Millisecond * 500)
		if isMounted(mp) {
			logger.Infof("\033[92mOK\033[0m, chunkfs is ready at %s", mp)
			return
		}
		os.Stdout.WriteString(".")
		os.Stdout.Sync()
	}
	os.Stdout.WriteString("\n")
	logger.Fatalf("fail to mount after 10 seconds, please mount in foreground")
}

func makeDaemon(c *cli.Context, mp string) error {
	var attrs godaemon.DaemonAttr
	attrs.OnExit = func(stage int) error {
		if stage != 0 {
			return nil
		}
		checkMountpoint(mp)
		return nil
	}

	// the current dir will be changed to root in daemon,
	// so every path argument has to be absolute.
	if godaemon.Stage() == 0 {
		args := c.Args().Slice()
		for i, a := range os.Args {
			for _, p := range args {
				if a == p {
					os.Args[i] = absPath(a)
				}
			}
		}
		var err error
		logfile := c.String("log")
		attrs.Stdout, err = os.OpenFile(logfile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorf("open log file %s: %s", logfile, err)
		}
	}
	_, _, err := godaemon.MakeDaemon(&attrs)
	return err
}

func mountFlags() []cli.Flag {
	var defaultLogDir = "/var/log"
	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Fatalf("%v", err)
			return nil
		}
		defaultLogDir = path.Join(homeDir, ".chunkfs")
	}
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "d",
			Aliases: []string{"background"},
			Usage:   "run in background",
		},
		&cli.BoolFlag{
			Name:  "no-syslog",
			Usage: "disable syslog",
		},
		&cli.StringFlag{
			Name:  "log",
			Value: path.Join(defaultLogDir, "chunkfs.log"),
			Usage: "path of log file, always used when running in background",
		},
		&cli.StringFlag{
			Name:  "o",
			Usage: "other FUSE options",
		},
		&cli.StringFlag{
			Name:  "compress",
			Value: compress.DefaultAlgorithm,
			Usage: "compression algorithm of chunk records (zlib, zstd, lz4)",
		},
		&cli.IntFlag{
			Name:  "lock-shards",
			Value: 1,
			Usage: "number of locks guarding chunk updates, 1 serializes all of them",
		},
		&cli.Int64Flag{
			Name:  "cache-write-limit",
			Value: 0,
			Usage: "bandwidth limit for writing chunk records in MiB/s, 0 means unlimited",
		},
		&cli.Float64Flag{
			Name:  "attr-cache",
			Value: 1.0,
			Usage: "attributes cache timeout in seconds",
		},
		&cli.Float64Flag{
			Name:  "entry-cache",
			Value: 1.0,
			Usage: "file entry cache timeout in seconds",
		},
	}
}

func disableUpdateDb() {
	p := "/etc/updatedb.conf"
	data, err := os.ReadFile(p)
	if err != nil {
		return
	}
	fstype := "fuse.chunkfs"
	if bytes.Contains(data, []byte(fstype)) {
		return
	}
	// assume that fuse.sshfs is already in PRUNEFS
	knownFS := "fuse.sshfs"
	p1 := bytes.Index(data, []byte("PRUNEFS"))
	p2 := bytes.Index(data, []byte(knownFS))
	if p1 > 0 && p2 > p1 {
		var nd []byte
		nd = append(nd, data[:p2]...)
		nd = append(nd, fstype...)
		nd = append(nd, ' ')
		nd = append(nd, data[p2:]...)
		err = os.WriteFile(p, nd, 0644)
		if err != nil {
			logger.Warnf("update %s: %s", p, err)
		} else {
			logger.Infof("Add %s into PRUNEFS of %s", fstype, p)
		}
	}
}

func mount(c *cli.Context) error {
	if c.Args().Len() != 3 {
		return usage("[mount] ROOT BACKING MOUNTPOINT")
	}
	root, err := realRoot(c.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	mp := absPath(c.Args().Get(2))
	if fi, err := os.Stat(mp); err != nil || !fi.IsDir() {
		return cli.Exit("MOUNTPOINT should be an existing directory", 1)
	}
	if compress.NewCompressor(c.String("compress")) == nil {
		return cli.Exit("unsupported compress algorithm: "+c.String("compress"), 1)
	}

	if c.Bool("d") {
		if err := makeDaemon(c, mp); err != nil {
			logger.Fatalf("Failed to make daemon: %s", err)
		}
		utils.InitLoggers(!c.Bool("no-syslog"))
	} else if c.IsSet("log") {
		if err := utils.SetOutFile(c.String("log")); err != nil {
			logger.Warnf("log to %s: %s", c.String("log"), err)
		}
	}

	cconf := chunkConfig(c, c.Args().Get(1))
	store, cache, err := openCache(cconf, c.Int("lock-shards"))
	if err != nil {
		logger.Fatalf("open chunk cache: %s", err)
	}
	conf := &vfs.Config{
		Root:         root,
		Mountpoint:   mp,
		Chunk:        cconf,
		LockShards:   c.Int("lock-shards"),
		AttrTimeout:  duration(c.Float64("attr-cache")),
		EntryTimeout: duration(c.Float64("entry-cache")),
		FuseOpts:     c.String("o"),
		Debug:        c.Bool("verbose") || c.Bool("trace"),
	}
	mountMain(conf, store, cache)
	return nil
}

func mountMain(conf *vfs.Config, store chunk.Store, cache *vfs.Cache) {
	if os.Getuid() == 0 && os.Getpid() != 1 {
		disableUpdateDb()
	}

	logger.Infof("Mounting %s at %s with chunk cache in %s ...", conf.Root, conf.Mountpoint, store)
	err := fuse.Serve(conf, cache)
	if err != nil {
		logger.Fatalf("fuse: %s", err)
	}
	hits, misses, corrupt, uncached := cache.Stats()
	logger.Infof("Unmounted %s: %d hits, %d misses, %d corrupt chunks, %d uncached", conf.Mountpoint, hits, misses, corrupt, uncached)
}
