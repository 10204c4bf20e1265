package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/banshee-data/placefields/internal/config"
	"github.com/banshee-data/placefields/internal/db"
	"github.com/banshee-data/placefields/internal/monitoring"
	"github.com/banshee-data/placefields/internal/placefield"
	"github.com/banshee-data/placefields/internal/placefield/epochs"
	"github.com/banshee-data/placefields/internal/recording"
	"github.com/banshee-data/placefields/internal/timeutil"
)

// commonFlags registers the flags every database command takes.
func commonFlags(name string) (*flag.FlagSet, *string, *bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	dbPath := fs.String("db", defaultDBPath, "SQLite database path")
	debug := fs.Bool("debug", false, "Enable debug logging")
	return fs, dbPath, debug
}

func openDB(path string, debug bool) (*db.DB, error) {
	monitoring.SetDebug(debug)
	store, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return store, nil
}

func handleMigrate(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("migrate")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: migrate needs one of up, down, version, force N")
		return errUsage
	}
	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()

	switch fs.Arg(0) {
	case "up":
		if err := store.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := store.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(out, "all migrations rolled back")
		return nil
	case "version":
	case "force":
		if fs.NArg() < 2 {
			return fmt.Errorf("force needs a version number")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", fs.Arg(1), err)
		}
		if err := store.MigrateForce(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown migrate action %q", fs.Arg(0))
	}
	v, dirty, err := store.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "schema version %d (dirty=%t)\n", v, dirty)
	return nil
}

func handleImport(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("import")
	name := fs.String("name", "", "Session name (required)")
	positions := fs.String("positions", "", "Position CSV with t, x[, y[, z]][, speed] columns (required)")
	spikes := fs.String("spikes", "", "Spike CSV with t, neuron_id[, shank, cluster] columns (required)")
	rate := fs.Float64("rate", 0, "Position sampling rate in Hz (0 estimates it from t)")
	notes := fs.String("notes", "", "Free-form session notes")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *name == "" || *positions == "" || *spikes == "" {
		fmt.Fprintln(os.Stderr, "Error: --name, --positions and --spikes are required")
		fs.Usage()
		return errUsage
	}

	pos, err := readCSV(*positions, func(r io.Reader) (*recording.Position, error) {
		return recording.ReadPositionCSV(r, *rate)
	})
	if err != nil {
		return err
	}
	sp, err := readCSV(*spikes, recording.ReadSpikesCSV)
	if err != nil {
		return err
	}

	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()

	s := &db.Session{Name: *name, Notes: *notes}
	if err := store.InsertSession(context.Background(), s, pos, sp); err != nil {
		return err
	}
	fmt.Fprintf(out, "imported session %q (id %d): %d-D, %d samples at %.2f Hz, %d spikes from %d neurons\n",
		s.Name, s.ID, s.NDim, s.NumSamples, s.SamplingRate, s.NumSpikes, len(sp.NeuronIDs()))
	return nil
}

func readCSV[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func handleCompute(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("compute")
	session := fs.String("session", "", "Session name (required)")
	configPath := fs.String("config", "", "Place field config JSON (defaults apply when empty)")
	epochSpec := fs.String("epochs", "", "Computation epochs as start:stop[,start:stop...] in seconds")
	label := fs.String("label", "", "Label stored with the result")
	exportDir := fs.String("export", "", "Directory to write the maps to as JSON")
	noSave := fs.Bool("no-save", false, "Compute without storing the result")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *session == "" {
		fmt.Fprintln(os.Stderr, "Error: --session is required")
		fs.Usage()
		return errUsage
	}

	cfg := config.DefaultPlacefieldConfig()
	if *configPath != "" {
		loaded, err := config.LoadPlacefieldConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	eps, err := parseEpochs(*epochSpec)
	if err != nil {
		return err
	}

	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := store.GetSession(ctx, *session)
	if err != nil {
		return err
	}
	pos, sp, err := store.LoadRecording(ctx, sess.ID)
	if err != nil {
		return err
	}

	clock := timeutil.RealClock{}
	start := clock.Now()
	set, err := placefield.NewComputed(ctx, pos, sp, eps,
		placefield.ParamsFromConfig(cfg), placefield.PolicyFromConfig(cfg))
	if err != nil {
		return err
	}
	monitoring.Logf("computed %s in %s", set, clock.Since(start))

	var id uuid.UUID
	if !*noSave {
		if id, err = store.SavePlaceFieldSet(ctx, sess.ID, *label, set); err != nil {
			return err
		}
	}
	if err := printSet(out, id, set); err != nil {
		return err
	}
	if *exportDir != "" {
		path, err := exportSet(*exportDir, sess.Name, id, set)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %s\n", path)
	}
	return nil
}

func handleShow(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("show")
	idFlag := fs.String("id", "", "Stored place field set id (required)")
	exportDir := fs.String("export", "", "Directory to write the maps to as JSON")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	id, err := uuid.Parse(*idFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: --id must be a set id: %v\n", err)
		return errUsage
	}

	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec, err := store.GetPlaceFieldSet(ctx, id)
	if err != nil {
		return err
	}
	set, err := store.LoadPlaceFieldSet(ctx, id)
	if err != nil {
		return err
	}
	if rec.Label != "" {
		fmt.Fprintf(out, "label: %s\n", rec.Label)
	}
	if err := printSet(out, id, set); err != nil {
		return err
	}
	if *exportDir != "" {
		path, err := exportSet(*exportDir, fmt.Sprintf("session%d", rec.SessionID), id, set)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %s\n", path)
	}
	return nil
}

func handleList(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("list")
	session := fs.String("session", "", "List the stored sets of this session instead of all sessions")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if *session == "" {
		sessions, err := store.ListSessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Fprintf(out, "%d\t%s\t%d-D\t%d samples\t%d spikes\t%s\n",
				s.ID, s.Name, s.NDim, s.NumSamples, s.NumSpikes, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	sess, err := store.GetSession(ctx, *session)
	if err != nil {
		return err
	}
	sets, err := store.ListPlaceFieldSets(ctx, sess.ID)
	if err != nil {
		return err
	}
	for _, r := range sets {
		fmt.Fprintf(out, "%s\t%s\t%d neurons\t%s\t%s\n",
			r.ID, r.Snapshot.Params, len(r.IncludedIDs), r.Label, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func handleDelete(args []string, out io.Writer) error {
	fs, dbPath, debug := commonFlags("delete")
	session := fs.String("session", "", "Session name to delete, with everything stored for it")
	setID := fs.String("set", "", "Place field set id to delete")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if (*session == "") == (*setID == "") {
		fmt.Fprintln(os.Stderr, "Error: give exactly one of --session or --set")
		return errUsage
	}
	store, err := openDB(*dbPath, *debug)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	if *setID != "" {
		id, err := uuid.Parse(*setID)
		if err != nil {
			return fmt.Errorf("invalid set id %q: %w", *setID, err)
		}
		if err := store.DeletePlaceFieldSet(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted place field set %s\n", id)
		return nil
	}
	sess, err := store.GetSession(ctx, *session)
	if err != nil {
		return err
	}
	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted session %q\n", sess.Name)
	return nil
}

// parseEpochs reads "start:stop,start:stop". An empty string means the whole
// recording.
func parseEpochs(s string) ([]epochs.Epoch, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []epochs.Epoch
	for i, part := range strings.Split(s, ",") {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("epoch %q: expected start:stop", part)
		}
		start, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return nil, fmt.Errorf("epoch %q: start: %w", part, err)
		}
		stop, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return nil, fmt.Errorf("epoch %q: stop: %w", part, err)
		}
		e := epochs.Epoch{Start: start, Stop: stop, Label: fmt.Sprintf("epoch%d", i)}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
