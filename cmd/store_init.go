package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/veridocs/correction-cli/internal/analysis"
	"github.com/veridocs/correction-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "corrections.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func analysisParams() analysis.Params {
	return analysis.Params{
		BatchSize:            cfg.Analysis.BatchSize,
		SimilarityThreshold:  cfg.Analysis.SimilarityThreshold,
		CandidateThreshold:   cfg.Analysis.CandidateThreshold,
		ConfidenceSaturation: cfg.Analysis.ConfidenceSaturation,
		SampleCap:            cfg.Analysis.SampleCap,
	}
}
