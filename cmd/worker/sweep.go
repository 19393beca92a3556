package main

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/formrelay/upload-relay/config"
	"github.com/formrelay/upload-relay/internal/relay/staging"
)

type sweepReport struct {
	Dir     string `json:"dir"`
	MaxAge  string `json:"max_age"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// RunSweep removes staged files older than maxAge from dir. Only run it
// while no relay is serving from the same directory, since it cannot see
// which files are held by live requests.
func RunSweep(args []string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dir := cfg.Upload.TempDir
	maxAge := cfg.Upload.TempMaxAge
	if len(args) > 0 {
		dir = args[0]
	}
	if len(args) > 1 {
		maxAge, err = time.ParseDuration(args[1])
		if err != nil || maxAge <= 0 {
			log.Fatalf("invalid maxAge %q: want a positive duration such as 30m", args[1])
		}
	}

	removed, err := staging.SweepDir(dir, maxAge)
	report := sweepReport{Dir: dir, MaxAge: maxAge.String(), Removed: removed}
	if err != nil {
		report.Error = err.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		log.Fatal(encErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
