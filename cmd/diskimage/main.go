// Command diskimage builds a raw disk image backing a blockdev.Device:
// a ustar archive of a host directory tree, padded to a whole number
// of 512-byte sectors. It is the ustar-backed analogue of the
// filesystem image builder a kernel build traditionally carries.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"blockdev"
)

func main() {
	var out string
	var skelDir string

	root := &cobra.Command{
		Use:   "diskimage",
		Short: "build a ustar disk image for the fake block device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return build(skelDir, out)
		},
	}
	root.Flags().StringVarP(&out, "output", "o", "disk.img", "output image path")
	root.Flags().StringVarP(&skelDir, "dir", "d", ".", "host directory to archive")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func build(skelDir, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	err = filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skelDir), "/")
		if rel == "" {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Format = tar.FormatUSTAR
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	return padToSectorBoundary(f)
}

// padToSectorBoundary extends the file with zero bytes until its
// length is a multiple of the block device's sector size.
func padToSectorBoundary(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	rem := info.Size() % blockdev.SectorSize
	if rem == 0 {
		return nil
	}
	pad := make([]byte, blockdev.SectorSize-rem)
	_, err = f.WriteAt(pad, info.Size())
	return err
}
