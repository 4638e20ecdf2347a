// cmd/warmup.go

package main

import (
	"ChunkFS/pkg/compress"
	"ChunkFS/pkg/utils"
	"github.com/urfave/cli/v2"
)

func warmupFlags() *cli.Command {
	return &cli.Command{
		Name:      "warmup",
		Usage:     "build the chunk cache of files below ROOT ahead of time",
		ArgsUsage: "ROOT BACKING PATH ...",
		Action:    warmup,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:    "threads",
				Aliases: []string{"p"},
				Value:   50,
				Usage:   "number of concurrent workers",
			},
			&cli.StringFlag{
				Name:  "compress",
				Value: compress.DefaultAlgorithm,
				Usage: "compression algorithm of chunk records (zlib, zstd, lz4)",
			},
			&cli.IntFlag{
				Name:  "lock-shards",
				Value: 1,
				Usage: "number of locks guarding chunk updates",
			},
			&cli.Int64Flag{
				Name:  "cache-write-limit",
				Usage: "bandwidth limit for writing chunk records in MiB/s, 0 means unlimited",
			},
		},
	}
}

func warmup(ctx *cli.Context) error {
	if ctx.Args().Len() < 3 {
		return usage("warmup ROOT BACKING PATH ...")
	}
	root, err := realRoot(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if compress.NewCompressor(ctx.String("compress")) == nil {
		return cli.Exit("unsupported compress algorithm: "+ctx.String("compress"), 1)
	}
	_, cache, err := openCache(chunkConfig(ctx, ctx.Args().Get(1)), ctx.Int("lock-shards"))
	if err != nil {
		logger.Fatalf("open chunk cache: %s", err)
	}

	paths := ctx.Args().Slice()[2:]
	progress, bar := utils.NewDynProgressBar("warming up: ", ctx.Bool("quiet"))
	files, failed := cache.Warmup(root, paths, int(ctx.Uint("threads")), bar)
	progress.Wait()

	hits, misses, corrupt, _ := cache.Stats()
	logger.Infof("Warmed up %d files (%d failed): %d chunks cached already, %d loaded, %d corrupt replaced",
		files, failed, hits, misses, corrupt)
	if failed > 0 {
		return cli.Exit("some files failed to warm up", 1)
	}
	return nil
}
