// Package slice is the periodic housekeeping driver spec.md §4.7/§5
// describes: one ticker goroutine that reaps expired registry waiters,
// walks the filesystem tree for cache expiry, and persists a snapshot to
// disk, on the teacher's scavenger-goroutine model (client/main.go's
// session scavenger, std/snmp.go's stats ticker).
package slice

import (
	"log"
	"time"

	"github.com/rpcarback/buddyfs/internal/fsnode"
	"github.com/rpcarback/buddyfs/internal/registry"
)

// Driver ties a request registry and a filesystem tree to a single tick
// interval, snapshotting to dir every SnapshotEvery ticks.
type Driver struct {
	reg  *registry.Registry
	tree *fsnode.Tree
	dir  string

	interval      time.Duration
	snapshotEvery int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Driver. interval is how often RunOnce fires; snapshotEvery
// is the number of ticks between SaveLocal calls (0 disables snapshotting).
func New(reg *registry.Registry, tree *fsnode.Tree, dir string, interval time.Duration, snapshotEvery int) *Driver {
	return &Driver{
		reg:           reg,
		tree:          tree,
		dir:           dir,
		interval:      interval,
		snapshotEvery: snapshotEvery,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// RunOnce performs a single tick's worth of housekeeping: registry reap,
// cache expiry, and (if tickCount is a multiple of snapshotEvery) a
// snapshot save. Exported so tests can drive deterministic steps instead
// of waiting on a real ticker.
func (d *Driver) RunOnce(tickCount int) {
	d.reg.Tick()
	d.tree.ExpireSlice()
	if d.snapshotEvery > 0 && d.dir != "" && tickCount%d.snapshotEvery == 0 {
		if err := d.tree.SaveLocal(d.dir); err != nil {
			log.Println("slice: snapshot save failed:", err)
		}
	}
}

// Start spawns the ticker goroutine; Stop ends it.
func (d *Driver) Start() {
	go d.run()
}

func (d *Driver) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	tickCount := 0
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			tickCount++
			d.RunOnce(tickCount)
		}
	}
}

// Stop signals the ticker goroutine to exit and blocks until it has.
func (d *Driver) Stop() {
	close(d.stopCh)
	<-d.doneCh
}
