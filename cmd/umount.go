// cmd/umount.go

package main

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/urfave/cli/v2"
)

func umountFlags() *cli.Command {
	return &cli.Command{
		Name:      "umount",
		Usage:     "unmount a chunkfs mount point",
		ArgsUsage: "MOUNTPOINT",
		Action:    umount,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "unmount a busy mount point by force",
			},
		},
	}
}

// umountCmd builds the platform command that unmounts mp.
func umountCmd(mp string, force bool) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		if force {
			return exec.Command("diskutil", "umount", "force", mp), nil
		}
		return exec.Command("diskutil", "umount", mp), nil
	case "linux":
		if _, err := exec.LookPath("fusermount"); err == nil {
			if force {
				return exec.Command("fusermount", "-uz", mp), nil
			}
			return exec.Command("fusermount", "-u", mp), nil
		}
		if force {
			return exec.Command("umount", "-l", mp), nil
		}
		return exec.Command("umount", mp), nil
	default:
		return nil, fmt.Errorf("OS %s is not supported", runtime.GOOS)
	}
}

func umount(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return usage("umount MOUNTPOINT")
	}
	mp := ctx.Args().Get(0)
	cmd, err := umountCmd(mp, ctx.Bool("force"))
	if err != nil {
		return err
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Errorf("umount %s: %s", mp, out)
	}
	return err
}
