package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/stefangweichinger/amar"
)

// listEntry tracks the running byte count for one file while its content
// attribute streams past; FileFinish prints it.
type listEntry struct {
	name  string
	bytes int64
}

// ListCmd returns the list command: it prints one line per file in an
// archive, with the size of its content attribute.
func ListCmd(cfg Config, logger *log.Logger) *Command {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)

	return &Command{
		Flags: fs,
		Usage: "list <archive>",
		Short: "List the files in an AMAR archive",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("list requires exactly one archive path")
			}
			return execList(o, cfg, logger, args[0])
		},
	}
}

func execList(o *IO, cfg Config, logger *log.Logger, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	policy := amar.Policy{
		FileStart: func(filenum uint16, filename string) (interface{}, bool) {
			return &listEntry{name: filename}, false
		},
		FileFinish: func(filenum uint16, fileState interface{}, truncated bool) {
			entry := fileState.(*listEntry)
			suffix := ""
			if truncated {
				suffix = " (truncated)"
			}
			o.Printf("%-40s %10d bytes%s\n", entry.name, entry.bytes, suffix)
		},
		Handlers: []amar.AttrHandling{
			{
				Attrid: cfg.ContentAttr,
				Callback: func(filenum uint16, fileState interface{}, attrid uint16, handlerData interface{}, attrState *interface{}, payload []byte, eoa, truncated bool) bool {
					fileState.(*listEntry).bytes += int64(len(payload))
					return true
				},
			},
		},
	}

	r := amar.NewReader(f, policy, logger)
	if err := r.Read(); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}
