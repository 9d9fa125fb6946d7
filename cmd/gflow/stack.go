package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gw123/gflow-sub001/internal/metrics"
	"github.com/gw123/gflow-sub001/internal/runners"
	"github.com/gw123/gflow-sub001/internal/runtime"
	"github.com/gw123/gflow-sub001/internal/secrets"
	"github.com/gw123/gflow-sub001/internal/store"
	"github.com/gw123/gflow-sub001/internal/streaming"
	"github.com/gw123/gflow-sub001/internal/validation"
)

// stack is the wired runtime shared by serve, run and mcp.
type stack struct {
	store     *store.LibSQLStore
	vault     secrets.Vault
	registry  *runners.Registry
	validator *validation.WorkflowValidator
	hub       *streaming.MemoryHub
	metrics   *metrics.Metrics
	manager   *runtime.Manager
	logger    *slog.Logger
}

// openStack wires the runtime. Without persist no database is opened and
// runs live in memory only.
func openStack(ctx context.Context, cfg Config, logger *slog.Logger, persist bool) (*stack, error) {
	st := &stack{logger: logger, hub: streaming.NewMemoryHub(), metrics: metrics.New()}

	if persist {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, err
		}
		s, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		st.store = s

		if cfg.VaultKey != "" {
			v, err := secrets.NewAESVault(s, secrets.ConfigFromKey(cfg.VaultKey))
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			st.vault = v
		} else {
			logger.Warn("vault_key is not set; credentials and secret refs are unavailable")
		}
	}

	reg, err := runners.NewDefaultRegistry(runners.Options{Vault: st.vault, Logger: logger})
	if err != nil {
		st.closeStore()
		return nil, err
	}
	st.registry = reg

	v, err := validation.NewWorkflowValidator(reg, reg.Conditions())
	if err != nil {
		st.closeStore()
		return nil, err
	}
	st.validator = v

	opts := runtime.Options{
		Runners:         reg,
		Validator:       v,
		Hub:             st.hub,
		Metrics:         st.metrics,
		PoolSize:        cfg.PoolSize,
		ResponseTimeout: cfg.ResponseTimeout,
		Logger:          logger,
	}
	if st.store != nil {
		opts.Store = st.store
	}
	m, err := runtime.NewManager(opts)
	if err != nil {
		st.closeStore()
		return nil, err
	}
	st.manager = m
	return st, nil
}

// Close stops the manager, suspending runs still waiting, then closes the
// database.
func (st *stack) Close(ctx context.Context) error {
	var errs []error
	if st.manager != nil {
		if err := st.manager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if st.store != nil {
		if err := st.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (st *stack) closeStore() {
	if st.store != nil {
		_ = st.store.Close()
	}
}
