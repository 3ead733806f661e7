// Command booking-audit reports stored appointments that overlap within the same conflict scope.
// It exits 1 when any overlap is found.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/algotwist369/bookby247/libs/config"
	"github.com/algotwist369/bookby247/libs/db"
	"github.com/algotwist369/bookby247/libs/runtime"
	"github.com/algotwist369/bookby247/services/booking-service/internal/availability"
	"github.com/algotwist369/bookby247/services/booking-service/internal/catalog"
	"github.com/algotwist369/bookby247/services/booking-service/internal/model"
)

type source interface {
	ListActiveFrom(ctx context.Context, fromDate string) ([]model.Appointment, error)
}

type finding struct {
	BusinessID string `json:"business_id"`
	Date       string `json:"date"`
	Scope      string `json:"scope"`
	First      string `json:"first"`
	FirstSlot  string `json:"first_slot"`
	Second     string `json:"second"`
	SecondSlot string `json:"second_slot"`
}

func run(ctx context.Context, src source, policies catalog.Provider, from string, out io.Writer, logger *slog.Logger) (int, error) {
	appts, err := src.ListActiveFrom(ctx, from)
	if err != nil {
		return 0, err
	}

	buffers := map[string]int{}
	bufferFor := func(businessID string) int {
		if b, ok := buffers[businessID]; ok {
			return b
		}
		p, err := policies.Policy(ctx, businessID)
		if err != nil {
			logger.Warn("policy unavailable; auditing without buffer", "business_id", businessID, "err", err)
		}
		buffers[businessID] = p.BufferMinutes
		return p.BufferMinutes
	}

	overlaps := availability.Audit(appts, bufferFor)
	enc := json.NewEncoder(out)
	for _, o := range overlaps {
		if err := enc.Encode(finding{
			BusinessID: o.First.BusinessID,
			Date:       o.First.Date,
			Scope:      o.First.ScopeKey(),
			First:      o.First.ID,
			FirstSlot:  o.First.StartTime + "-" + o.First.EndTime,
			Second:     o.Second.ID,
			SecondSlot: o.Second.StartTime + "-" + o.Second.EndTime,
		}); err != nil {
			return 0, err
		}
	}
	logger.Info("audit finished", "from", from, "scanned", len(appts), "overlaps", len(overlaps))
	return len(overlaps), nil
}

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code: 0 clean, 1 overlaps found, 2 on errors.
func realMain() int {
	_ = godotenv.Load()
	from := flag.String("from", time.Now().UTC().Format(availability.DateLayout), "first date to audit (YYYY-MM-DD)")
	flag.Parse()

	logger := runtime.NewLogger("booking-audit", config.String("LOG_LEVEL", "info"))
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		logger.Error("config error", "err", err)
		return 2
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return 2
	}
	defer pool.Close()

	return exitCode(run(ctx, storageFor(pool), catalog.NewPostgresProvider(pool), *from, os.Stdout, logger))
}

func exitCode(overlaps int, err error) int {
	switch {
	case err != nil:
		return 2
	case overlaps > 0:
		fmt.Fprintf(os.Stderr, "%d overlapping appointment pairs found\n", overlaps)
		return 1
	default:
		return 0
	}
}
