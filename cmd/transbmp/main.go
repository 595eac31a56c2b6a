// Command transbmp decodes a HEIF, HEVC or WebP image and writes it as a
// BMP file next to the input.
//
// Usage:
//
//	transbmp [-v] <path>
//
// The output is written to <path>.bmp. The exit status is -1 when the
// input cannot be read or decoded.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/bmp"

	"github.com/mrjoshuak/go-hevc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("transbmp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "log the decoding stages")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: transbmp [-v] <path>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return -1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return -1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	path := fs.Arg(0)
	if err := convert(path, path+".bmp", logger); err != nil {
		logger.Error("conversion failed", "path", path, "err", err)
		return -1
	}
	return 0
}

// convert decodes src and writes it to dst as BMP.
func convert(src, dst string, logger *slog.Logger) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	img, err := hevc.DecodeConfig(in, &hevc.Config{Logger: logger})
	if err != nil {
		return errors.Wrap(err, "decoding")
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := bmp.Encode(out, img); err != nil {
		out.Close()
		return errors.Wrap(err, "writing BMP")
	}
	if err := out.Close(); err != nil {
		return err
	}
	b := img.Bounds()
	logger.Debug("wrote BMP", "path", dst, "width", b.Dx(), "height", b.Dy())
	return nil
}
