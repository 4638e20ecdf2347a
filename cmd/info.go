// cmd/info.go

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"ChunkFS/pkg/chunk"
	"ChunkFS/pkg/vfs"
	"github.com/urfave/cli/v2"
)

func infoFlags() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "show the chunk records cached for paths below ROOT",
		ArgsUsage: "ROOT BACKING PATH ...",
		Action:    info,
	}
}

type pathInfo struct {
	Path    string
	Digest  string
	Dir     string
	Stored  int64
	Records []chunk.Record
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}

// collectInfo describes the cached chunks of each path, relative to root.
func collectInfo(store *chunk.DiskStore, root string, paths []string) ([]*pathInfo, error) {
	var infos []*pathInfo
	for _, p := range paths {
		rel := strings.TrimPrefix(filepath.Clean("/"+p), "/")
		lp := vfs.LogicalPath(root, rel)
		id := chunk.Digest(lp)
		rs, err := store.Records(id)
		if err != nil {
			return nil, err
		}
		pi := &pathInfo{Path: lp, Digest: id, Dir: store.Dir(id), Records: rs}
		for _, r := range rs {
			pi.Stored += r.Size
		}
		infos = append(infos, pi)
	}
	return infos, nil
}

func info(ctx *cli.Context) error {
	if ctx.Args().Len() < 3 {
		return usage("info ROOT BACKING PATH ...")
	}
	root, err := realRoot(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	backing, err := vfs.RealRoot(ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(err, 1)
	}
	store, err := chunk.NewDiskStore(&chunk.Config{CacheDir: backing, ChunkSize: chunk.DefaultChunkSize})
	if err != nil {
		return err
	}
	infos, err := collectInfo(store, root, ctx.Args().Slice()[2:])
	if err != nil {
		logger.Fatalf("list records: %s", err)
	}
	printJson(infos)
	return nil
}
