package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cgast/exemplar/pkg/protocol"
	"github.com/cgast/exemplar/pkg/session"
)

// handleAgent implements `exemplar agent`: a JSON-RPC session on
// stdin/stdout, one request per line.
func handleAgent(args []string) error {
	var cf commonFlags
	fs := newFlagSet("agent", &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(cf)
	if err != nil {
		return err
	}
	defer a.close()

	runner := a.newRunner()
	if err := a.startInspector(runner); err != nil {
		return err
	}
	handler := protocol.NewHandler(a.logger)
	// A nil *store.Store must not reach Register as a non-nil lister.
	var records session.RecordLister
	if a.store != nil {
		records = a.store
	}
	session.Register(handler, runner, records, session.WithStudyReader(a.sandbox.ReadFile))

	a.logger.Info("agent mode started",
		slog.String("session_id", runner.Session().ID),
		slog.Any("methods", handler.Methods()),
	)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB max line

	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp, reply := handler.HandleRaw([]byte(line))
		if !reply {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding response: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read error: %w", err)
	}
	return nil
}
