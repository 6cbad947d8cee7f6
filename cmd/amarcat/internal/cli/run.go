package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"
)

// Run is amarcat's entry point: it parses global flags, loads the config
// file, builds the logger, and dispatches to a subcommand. It returns the
// process exit code.
func Run(out, errOut io.Writer, args []string) int {
	globalFlags := flag.NewFlagSet("amarcat", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.SetOutput(io.Discard)

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagLogLevel := globalFlags.String("log-level", "", "Override the configured log level")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)
		return 1
	}

	cfg, err := LoadConfig(*flagConfig)
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}

	logger := log.NewWithOptions(errOut, log.Options{ReportTimestamp: true})
	logger.SetLevel(parseLevel(cfg.LogLevel))

	commands := allCommands(cfg, logger)
	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out, commands)
		if len(commandAndArgs) == 0 && !*flagHelp {
			return 1
		}
		return 0
	}

	cmdName := commandAndArgs[0]
	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)
		return 1
	}

	cmdIO := NewIO(out, errOut)
	return cmd.Run(context.Background(), cmdIO, commandAndArgs[1:])
}

func allCommands(cfg Config, logger *log.Logger) []*Command {
	return []*Command{
		PackCmd(cfg, logger),
		ListCmd(cfg, logger),
		ExtractCmd(cfg, logger),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  -c, --config <file>    Use specified config file
  --log-level <level>    Override the configured log level`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: amarcat [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
}

func printUsage(w io.Writer, commands []*Command) {
	printGlobalOptions(w)
	fprintln(w)
	fprintln(w, "Commands:")
	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}

func parseLevel(name string) log.Level {
	switch strings.ToLower(name) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
