package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/klauspost/pgzip"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/stefangweichinger/amar"
)

// extractEntry holds one file's name (for destination path construction)
// and the in-progress accumulation buffer for its content attribute.
type extractEntry struct {
	name string
	buf  bytes.Buffer
}

// ExtractCmd returns the extract command: it writes every file in an
// archive out to a destination directory, one atomic write per file.
func ExtractCmd(cfg Config, logger *log.Logger) *Command {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.Bool("gzip", false, "Gunzip each file's content as it is extracted")

	return &Command{
		Flags: fs,
		Usage: "extract <archive> <destdir>",
		Short: "Extract every file in an AMAR archive to a directory",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("extract requires an archive path and a destination directory")
			}
			gzipped, _ := fs.GetBool("gzip")
			return execExtract(o, cfg, logger, args[0], args[1], gzipped)
		},
	}
}

func execExtract(o *IO, cfg Config, logger *log.Logger, archivePath, destDir string, gzipped bool) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var writeErr error

	policy := amar.Policy{
		FileStart: func(filenum uint16, filename string) (interface{}, bool) {
			return &extractEntry{name: filename}, false
		},
		FileFinish: func(filenum uint16, fileState interface{}, truncated bool) {
			if truncated || writeErr != nil {
				return
			}
			entry := fileState.(*extractEntry)
			dest := filepath.Join(destDir, filepath.Base(entry.name))

			var content io.Reader = bytes.NewReader(entry.buf.Bytes())
			if gzipped {
				zr, err := pgzip.NewReader(content)
				if err != nil {
					writeErr = fmt.Errorf("gunzipping %s: %w", dest, err)
					return
				}
				defer zr.Close()
				content = zr
			}

			if err := atomic.WriteFile(dest, content); err != nil {
				writeErr = fmt.Errorf("writing %s: %w", dest, err)
				return
			}
			o.Println(dest)
		},
		Handlers: []amar.AttrHandling{
			{
				Attrid: cfg.ContentAttr,
				Callback: func(filenum uint16, fileState interface{}, attrid uint16, handlerData interface{}, attrState *interface{}, payload []byte, eoa, truncated bool) bool {
					entry := fileState.(*extractEntry)
					entry.buf.Write(payload)
					return true
				},
			},
		},
	}

	r := amar.NewReader(f, policy, logger)
	if err := r.Read(); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return writeErr
}
