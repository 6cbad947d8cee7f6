package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/pgzip"
	flag "github.com/spf13/pflag"

	"github.com/stefangweichinger/amar"
)

// PackCmd returns the pack command: it streams one or more files into a
// new archive, one amar file per input, each with a single content
// attribute.
func PackCmd(cfg Config, logger *log.Logger) *Command {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.BoolP("append", "a", false, "Append to archive if it already exists")
	fs.Bool("gzip", false, "Gzip-compress each file's content before packing")

	return &Command{
		Flags: fs,
		Usage: "pack <archive> <file>...",
		Short: "Pack one or more files into an AMAR archive",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("pack requires an archive path and at least one input file")
			}
			appendMode, _ := fs.GetBool("append")
			gzipContent, _ := fs.GetBool("gzip")
			return execPack(o, cfg, logger, args[0], args[1:], appendMode, gzipContent)
		},
	}
}

func execPack(o *IO, cfg Config, logger *log.Logger, archivePath string, inputs []string, appendMode, gzipContent bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(archivePath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	w, err := amar.NewWriter(f, logger)
	if err != nil {
		return fmt.Errorf("creating archive writer: %w", err)
	}

	for _, path := range inputs {
		if err := packFile(w, cfg, path, gzipContent); err != nil {
			return fmt.Errorf("packing %s: %w", path, err)
		}
		o.Println(path)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}

func packFile(w *amar.Writer, cfg Config, path string, gzipContent bool) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	fh, err := w.NewFile(filepath.Base(path))
	if err != nil {
		return err
	}

	attr, err := fh.NewAttr(cfg.ContentAttr)
	if err != nil {
		return err
	}

	content := io.Reader(src)
	if gzipContent {
		content = gzipPipe(src)
	}

	if _, err := attr.AppendFromReader(content, true); err != nil {
		return err
	}

	if err := attr.Close(); err != nil {
		return err
	}
	return fh.Close()
}

// gzipPipe compresses r on a background goroutine and returns the
// compressed stream as a Reader, so AppendFromReader can keep consuming it
// in MaxRecordPayload-sized chunks without ever holding the whole file in
// memory.
func gzipPipe(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		zw := pgzip.NewWriter(pw)
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		if err := zw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}
