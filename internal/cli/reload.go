package cli

import (
	"log/slog"
	"sort"

	"github.com/Paintersrp/procdock/internal/config"
	"github.com/Paintersrp/procdock/internal/engine"
	"github.com/Paintersrp/procdock/internal/workload"
)

type reloadResult struct {
	Added    []string
	Updated  []string
	Orphaned []string
}

// applyReload merges a reloaded document into a running engine. New
// workloads are inserted, changed ones take effect on their next start, and
// workloads missing from the document are reported but left alone.
func applyReload(mgr *engine.Manager, doc *config.File) reloadResult {
	var (
		res    reloadResult
		fresh  []workload.Config
		wanted = make(map[string]bool, len(doc.Workloads))
	)
	for _, cfg := range doc.Resolved() {
		wanted[cfg.ID] = true
		current, ok := mgr.Config(cfg.ID)
		if !ok {
			fresh = append(fresh, cfg)
			res.Added = append(res.Added, cfg.ID)
			continue
		}
		if current != cfg {
			if err := mgr.UpdateWorkload(cfg); err == nil {
				res.Updated = append(res.Updated, cfg.ID)
			}
		}
	}
	mgr.InitFromConfig(fresh)

	for _, snap := range mgr.List() {
		if !wanted[snap.Config.ID] {
			res.Orphaned = append(res.Orphaned, snap.Config.ID)
		}
	}
	sort.Strings(res.Orphaned)
	return res
}

func logReload(logger *slog.Logger, res reloadResult) {
	logger.Info("config reloaded", "added", len(res.Added), "updated", len(res.Updated))
	if len(res.Orphaned) > 0 {
		logger.Warn("workloads no longer in config were left in place", "ids", res.Orphaned)
	}
}

// watchConfig starts a watcher that keeps mgr and store in step with the
// file at path.
func watchConfig(path string, mgr *engine.Manager, store *config.Store, logger *slog.Logger) (*config.Watcher, error) {
	w := config.NewWatcher(path, logger)
	w.OnReload(func(doc *config.File) {
		if store != nil {
			store.Replace(doc)
		}
		logReload(logger, applyReload(mgr, doc))
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}
