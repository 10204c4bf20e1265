package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/placefields/internal/version"
)

const defaultDBPath = "placefields.db"

var errUsage = errors.New("usage")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := run(flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "migrate":
		return handleMigrate(args, out)
	case "import":
		return handleImport(args, out)
	case "compute":
		return handleCompute(args, out)
	case "show":
		return handleShow(args, out)
	case "list":
		return handleList(args, out)
	case "delete":
		return handleDelete(args, out)
	case "version":
		fmt.Fprintf(out, "placefields %s\n", version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `placefields - place field computation for spike and position recordings

Usage: placefields <command> [options]

Commands:
  migrate    Apply or inspect database migrations (up, down, version, force N)
  import     Store position and spike CSV files as a recording session
  compute    Compute place fields for a session and store the result
  show       Recompute a stored place field set and print or export it
  list       List sessions, or the place field sets of one session
  delete     Delete a session or a stored place field set
  version    Show version information
  help       Show this help message

Common Flags:
  --db <path>        SQLite database path (default: placefields.db)
  --debug            Enable debug logging

Examples:
  # Import a recording
  placefields import --name rat7-day2 --positions pos.csv --spikes spikes.csv

  # Compute 2-D maps with a config file and export them as JSON
  placefields compute --session rat7-day2 --config config/placefield.example.json --export ./out

  # Compute only inside two running epochs
  placefields compute --session rat7-day2 --epochs 0:300,600:900`)
}
