package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/tinkerbase/sdimager/builder"
	"github.com/tinkerbase/sdimager/flash"
	"github.com/tinkerbase/sdimager/imagefs"
	"github.com/tinkerbase/sdimager/progress"
)

func cmdBuild() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Assemble a custom bootable image from a base image URL",
		ArgsUsage: "IMAGE_URL SHA256 SUFFIX",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "work-dir",
				Usage:   "scratch directory for cache, work image and mount points",
				Sources: cli.EnvVars("SDIMAGER_WORK_DIR"),
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "directory for the final artifact and version-info",
				Sources: cli.EnvVars("SDIMAGER_OUTPUT_DIR"),
			},
			&cli.StringFlag{
				Name:  "skeleton",
				Usage: "skeleton directory copied onto the image root",
			},
			&cli.StringFlag{
				Name:  "overlay",
				Usage: "custom overlay directory copied after the skeleton",
			},
			&cli.StringFlag{
				Name:  "provision-script",
				Usage: "script executed inside the image via chroot",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "TOML build profile",
			},
			&cli.IntFlag{
				Name:  "grow-mb",
				Usage: "megabytes to grow the image before expanding the root partition",
			},
			&cli.BoolFlag{
				Name:  "keep-image",
				Usage: "keep the uncompressed work image after the build",
			},
			&cli.BoolFlag{
				Name:  "no-zerofree",
				Usage: "skip zeroing free blocks before compression",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a := mustApp(ctx)

			if c.NArg() < 3 {
				return errors.New("usage: sdimager build IMAGE_URL SHA256 SUFFIX")
			}

			cfg := builder.Config{
				ImageURL:        c.Args().Get(0),
				SHA256:          c.Args().Get(1),
				Suffix:          c.Args().Get(2),
				WorkDir:         c.String("work-dir"),
				OutputDir:       c.String("output-dir"),
				SkeletonDir:     c.String("skeleton"),
				OverlayDir:      c.String("overlay"),
				ProvisionScript: c.String("provision-script"),
				GrowMB:          int64(c.Int("grow-mb")),
				KeepImage:       c.Bool("keep-image"),
				SkipZerofree:    c.Bool("no-zerofree"),
			}

			if profilePath := c.String("profile"); profilePath != "" {
				profile, err := builder.LoadProfile(profilePath)
				if err != nil {
					return err
				}
				if err := profile.Apply(&cfg); err != nil {
					return err
				}
			}

			b := builder.New(cfg, a.Log, nil)
			defer b.Cleanup()

			artifact, err := b.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Println(artifact)
			return nil
		},
	}
}

func cmdInspect() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the partition layout and build metadata of an image",
		ArgsUsage: "IMAGE",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() < 1 {
				return errors.New("usage: sdimager inspect IMAGE")
			}
			path := c.Args().Get(0)

			d, err := imagefs.Open(path)
			if err != nil {
				return err
			}
			defer d.Close()

			layout, err := imagefs.DetectLayout(d)
			if err != nil {
				return err
			}

			if layout.Boot != nil {
				fmt.Printf("boot: start=%d size=%s\n", layout.Boot.GetStart(), progress.ByteCount(layout.Boot.GetSize()))
			}
			fmt.Printf("root: start=%d size=%s\n", layout.Root.GetStart(), progress.ByteCount(layout.Root.GetSize()))

			info, err := imagefs.ReadVersionInfo(d, layout)
			if err != nil {
				return err
			}
			if info == "" {
				fmt.Println("no version-info present")
				return nil
			}
			fmt.Println(info)
			return nil
		},
	}
}

func cmdFlash() *cli.Command {
	return &cli.Command{
		Name:      "flash",
		Usage:     "Write a built image to a removable device",
		ArgsUsage: "IMAGE [DEVICE]",
		Action: func(ctx context.Context, c *cli.Command) error {
			a := mustApp(ctx)

			if c.NArg() < 1 {
				return errors.New("usage: sdimager flash IMAGE [DEVICE]")
			}
			image := c.Args().Get(0)
			if _, err := os.Stat(image); err != nil {
				return fmt.Errorf("invalid image: %w", err)
			}

			device := c.Args().Get(1)
			if device == "" {
				if !term.IsTerminal(int(os.Stdout.Fd())) {
					return errors.New("no device given and stdout is not a terminal")
				}
				devices, err := flash.DiscoverRemovable(a.Log)
				if err != nil {
					return err
				}
				selected, err := flash.SelectDevice(devices)
				if err != nil {
					return err
				}
				device = selected.Path
			}

			return flash.Flash(image, device, a.Log)
		},
	}
}
