package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cgast/exemplar/internal/config"
	"github.com/cgast/exemplar/pkg/store"
)

// handleRecords implements `exemplar records [--json] [session]`.
func handleRecords(args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	cfgPath := fs.String("config", configPath(), "runtime config file")
	asJSON := fs.Bool("json", false, "print records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Store.Enabled {
		return fmt.Errorf("record store is disabled in %s", *cfgPath)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if fs.NArg() == 0 {
		sessions, err := st.Sessions()
		if err != nil {
			return err
		}
		if *asJSON {
			return json.NewEncoder(os.Stdout).Encode(sessions)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("  %-36s  %-12s  %-12s  %3d records  last %s\n",
				s.ID, s.ParticipantID, s.StudyID, s.Records, s.LastSeen.Format(time.RFC3339))
		}
		return nil
	}

	recs, err := st.List(fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		return json.NewEncoder(os.Stdout).Encode(recs)
	}
	for _, r := range recs {
		outcome := fmt.Sprintf("%d examples", len(r.Examples))
		if r.Guess != nil {
			outcome = fmt.Sprintf("guess %q %s", r.Guess.Text, r.Guess.Verdict)
		}
		fmt.Printf("  #%-3d %-12s %-12s %-24s %s (%dms)\n",
			r.Index+1, r.TrialID, r.Kind, r.Pattern, outcome, r.ElapsedMs)
	}
	return nil
}
