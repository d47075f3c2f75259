// Command mysticeti runs a single consensus authority: it opens (or
// creates) the write-ahead log, recovers or bootstraps a core.Core from
// it, and drives the tick loop that proposes, commits, and persists
// state. Wiring peers over the network (package network's message
// shapes) and fetching missing ancestors is left to an external
// synchronizer per spec.md §1's Non-goals — this binary only proves out
// the single-node plumbing, the same way the teacher's own cmd/berith
// stays thin and defers the heavy lifting to its node/berith packages.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mysticeti/blockhandler"
	"mysticeti/blockmanager"
	"mysticeti/blockstore"
	"mysticeti/clock"
	"mysticeti/commitinterpreter"
	"mysticeti/committee"
	"mysticeti/committer"
	"mysticeti/config"
	"mysticeti/core"
	"mysticeti/log"
	"mysticeti/metrics"
	"mysticeti/txaggregator"
	"mysticeti/types"
	"mysticeti/wal"
)

func main() {
	configFile := flag.String("config", "", "TOML configuration file (defaults applied if omitted)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		log.Crit("mysticeti: exiting", "err", err)
	}
}

func run(configFile string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	c, err := committee.New(cfg.Stakes)
	if err != nil {
		return err
	}
	self := types.AuthorityIndex(cfg.SelfAuthority)

	if err := os.MkdirAll(cfg.WalDir, 0o755); err != nil {
		return err
	}
	walPath := cfg.WalDir + "/mysticeti.wal"

	w, err := wal.Open(walPath)
	if err != nil {
		return err
	}
	defer w.Close()

	clk := clock.System{}
	met := metrics.New()

	var txLog *txaggregator.Log
	if cfg.CertifiedTxLogDir != "" {
		txLog, err = txaggregator.OpenLog(cfg.CertifiedTxLogDir)
		if err != nil {
			return err
		}
		defer txLog.Close()
	}
	agg := txaggregator.New(c, txLog)
	handler := blockhandler.NewReal(agg, clk, cfg.MaxPendingTransactions, cfg.LatencyHorizon)

	cr, err := buildCore(walPath, w, self, cfg, c, handler, clk, met)
	if err != nil {
		return err
	}

	return mainLoop(cr, met, walPath)
}

// buildCore recovers a Core from an existing WAL, or bootstraps a fresh
// one if the log is empty — spec.md §4.2's open(wal_reader) decision
// point, made once at startup rather than per call.
func buildCore(walPath string, w *wal.Writer, self types.AuthorityIndex, cfg *config.Config, c *committee.Committee, handler blockhandler.Handler, clk clock.Clock, met *metrics.Metrics) (*core.Core, error) {
	coreCfg := core.Config{
		SelfAuthority: self,
		Committee:     c,
		Period:        cfg.CommitPeriod,
		SyncOnWrite:   cfg.WalSyncOnWrite,
	}

	reader, err := wal.NewReader(walPath)
	if err != nil {
		return nil, err
	}

	recovered, err := core.Recover(reader, w, self, cfg.BlockStoreCacheEntries, c)
	if err != nil {
		return nil, err
	}

	if recovered.Empty {
		store, err := blockstore.New(w, self, cfg.BlockStoreCacheEntries)
		if err != nil {
			return nil, err
		}
		manager := blockmanager.New(store)
		cm := committer.New(c, store, cfg.CommitPeriod)
		observer := commitinterpreter.NewRealObserver(store, handler, nil, met, clk)

		cr := core.New(w, store, manager, handler, cm, observer, clk, coreCfg)
		if err := cr.Bootstrap(); err != nil {
			return nil, err
		}
		return cr, nil
	}

	cm := committer.New(c, recovered.Store, cfg.CommitPeriod)
	observer := commitinterpreter.NewRealObserver(recovered.Store, handler, nil, met, clk)
	return core.NewFromRecovered(recovered, w, handler, cm, observer, clk, coreCfg)
}

// mainLoop drives periodic proposal, commit, and state-persistence
// ticks until an interrupt or termination signal arrives, mirroring the
// teacher's miner/worker.go newWorkLoop/mainLoop split: one goroutine
// reacting to a ticker, the other waiting on exit. Here a single
// errgroup goroutine plays both roles since there is no separate
// work-submission channel to multiplex against.
func mainLoop(cr *core.Core, met *metrics.Metrics, walPath string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	resourceTicker := time.NewTicker(5 * time.Second)
	defer resourceTicker.Stop()

	var g errgroup.Group
	done := make(chan struct{})

	g.Go(func() error {
		for {
			select {
			case <-sigCh:
				log.Info("mysticeti: shutdown requested")
				close(done)
				return cr.WriteState()

			case <-resourceTicker.C:
				met.SampleResources(walPath)

			case <-ticker.C:
				if err := tick(cr, met); err != nil {
					log.Error("mysticeti: tick failed", "err", err)
				}

			case <-done:
				return nil
			}
		}
	})

	return g.Wait()
}

// tick runs one round of try_new_block/try_commit/write_state, logging
// whatever it produces. AddBlocks is driven by the (external)
// synchronizer delivering received blocks, not from here.
func tick(cr *core.Core, met *metrics.Metrics) error {
	if cr.ReadyNewBlock() {
		blk, created, err := cr.TryNewBlock()
		if err != nil {
			return err
		}
		if created {
			log.Debug("mysticeti: proposed block", "round", blk.Round(), "author", blk.Author())
		}
	}

	commits, err := cr.TryCommit()
	if err != nil {
		return err
	}
	for _, cd := range commits {
		met.IncBlocksHandled()
		log.Info("mysticeti: committed", "anchor_round", cd.Anchor.Round, "anchor_author", cd.Anchor.Authority, "subdag_size", len(cd.SubDag))
	}

	if len(commits) > 0 {
		if err := cr.WriteState(); err != nil {
			return err
		}
	}

	return nil
}
