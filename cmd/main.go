// cmd/main.go

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ChunkFS/pkg/chunk"
	"ChunkFS/pkg/utils"
	"ChunkFS/pkg/version"
	"ChunkFS/pkg/vfs"
	"github.com/google/gops/agent"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = utils.GetLogger("chunkfs")

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"debug", "v"},
			Usage:   "enable debug log",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "only warning and errors",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "enable trace log",
		},
		&cli.BoolFlag{
			Name:  "no-agent",
			Usage: "disable gops agent",
		},
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print only the version",
	}
	return &cli.App{
		Name:                 "chunkfs",
		Usage:                "A passthrough filesystem with a compressed chunk cache.",
		Version:              version.Version(),
		Copyright:            "Apache License 2.0",
		EnableBashCompletion: true,
		ArgsUsage:            "ROOT BACKING MOUNTPOINT",
		Flags:                append(globalFlags(), mountFlags()...),
		Before:               before,
		Action:               mount,
		Commands: []*cli.Command{
			mountCommand(),
			umountFlags(),
			warmupFlags(),
			infoFlags(),
		},
	}
}

func before(c *cli.Context) error {
	setLoggerLevel(c)
	if !c.Bool("no-agent") {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Debugf("start gops agent: %s", err)
		}
	}
	return nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func setLoggerLevel(c *cli.Context) {
	if c.Bool("trace") {
		utils.SetLogLevel(logrus.TraceLevel)
	} else if c.Bool("verbose") {
		utils.SetLogLevel(logrus.DebugLevel)
	} else if c.Bool("quiet") {
		utils.SetLogLevel(logrus.WarnLevel)
	} else {
		utils.SetLogLevel(logrus.InfoLevel)
	}
}

// usage reports a wrong number of arguments and makes the command exit 1.
func usage(args string) error {
	return cli.Exit("Usage: chunkfs "+args, 1)
}

func chunkConfig(c *cli.Context, backing string) *chunk.Config {
	return &chunk.Config{
		CacheDir:   backing,
		ChunkSize:  chunk.DefaultChunkSize,
		Compress:   c.String("compress"),
		WriteLimit: c.Int64("cache-write-limit") << 20,
	}
}

// openCache prepares the backing directory and the cache on top of it.
func openCache(conf *chunk.Config, shards int) (*chunk.DiskStore, *vfs.Cache, error) {
	if err := os.MkdirAll(conf.CacheDir, 0755); err != nil {
		return nil, nil, err
	}
	dir, err := vfs.RealRoot(conf.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	conf.CacheDir = dir
	store, err := chunk.NewDiskStore(conf)
	if err != nil {
		return nil, nil, err
	}
	return store, vfs.NewCache(store, shards), nil
}

// realRoot resolves ROOT, which must be an existing directory.
func realRoot(p string) (string, error) {
	root, err := vfs.RealRoot(p)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s is not a directory", p)
	}
	return root, nil
}

func duration(s float64) time.Duration {
	return time.Microsecond * time.Duration(s*1e6)
}

func absPath(p string) string {
	if ap, err := filepath.Abs(p); err == nil {
		return ap
	}
	return p
}
