// pkg/fuse/fuse.go

package fuse

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ChunkFS/pkg/utils"
	"ChunkFS/pkg/vfs"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var logger = utils.GetLogger("chunkfs")

func mountOptions(conf *vfs.Config) fuse.MountOptions {
	opts := fuse.MountOptions{
		FsName: "ChunkFS:" + conf.Root,
		Name:   "chunkfs",
		Debug:  conf.Debug,
	}
	if os.Getuid() == 0 {
		opts.AllowOther = true
	}
	for _, n := range strings.Split(conf.FuseOpts, ",") {
		n = strings.TrimSpace(n)
		switch {
		case n == "":
		case n == "allow_other":
			opts.AllowOther = true
		case n == "debug":
			opts.Debug = true
		default:
			opts.Options = append(opts.Options, n)
		}
	}
	return opts
}

func mount(conf *vfs.Config, cache *vfs.Cache) (*fuse.Server, error) {
	fsys, err := newFileSystem(conf.Root, cache)
	if err != nil {
		return nil, err
	}
	negative := time.Duration(0)
	return fs.Mount(conf.Mountpoint, fsys.root, &fs.Options{
		AttrTimeout:     &conf.AttrTimeout,
		EntryTimeout:    &conf.EntryTimeout,
		NegativeTimeout: &negative,
		MountOptions:    mountOptions(conf),
	})
}

// Serve mounts conf.Root at conf.Mountpoint and blocks until it is unmounted.
func Serve(conf *vfs.Config, cache *vfs.Cache) error {
	server, err := mount(conf, cache)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Infof("received %s, unmounting %s", sig, conf.Mountpoint)
		if err := server.Unmount(); err != nil {
			logger.Errorf("unmount %s: %s", conf.Mountpoint, err)
		}
	}()
	server.Wait()
	signal.Stop(signals)
	return nil
}
