package loadgen

import (
	"fmt"
	"math/rand"
	"time"
)

// logPaths are realistic Nutanix CVM log paths start_tail_f targets rotate
// through.
var logPaths = []struct {
	path string
	name string
}{
	{"/home/nutanix/data/logs/genesis.out", "genesis.out"},
	{"/home/nutanix/data/logs/stargate.INFO", "stargate.INFO"},
	{"/home/nutanix/data/logs/cassandra_monitor.INFO", "cassandra_monitor.INFO"},
	{"/home/nutanix/data/logs/cerebro.INFO", "cerebro.INFO"},
	{"/home/nutanix/data/logs/curator.INFO", "curator.INFO"},
	{"/home/nutanix/data/logs/zookeeper.out", "zookeeper.out"},
}

// sessionTarget is one synthetic start_tail_f target.
type sessionTarget struct {
	cvmIP     string
	logPath   string
	logName   string
	reachable bool
}

// Generator produces synthetic session targets distributed across a pool of
// CVM IPs, a fraction of which are deliberately unreachable (ErrorRate) to
// exercise C5's AddSSH retry/backoff path under load.
type Generator struct {
	rng     *rand.Rand
	cfg     Config
	cvmIPs  []string
	badCVMs map[string]bool
}

// NewGenerator creates a new target generator.
func NewGenerator(cfg Config) *Generator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	cvmIPs := make([]string, cfg.CVMs)
	for i := range cvmIPs {
		cvmIPs[i] = fmt.Sprintf("10.%d.%d.%d", rng.Intn(254)+1, rng.Intn(254)+1, i%254+1)
	}

	badCVMs := make(map[string]bool)
	numBad := cfg.CVMs * cfg.ErrorRate / 100
	for i := 0; i < numBad; i++ {
		badCVMs[cvmIPs[i]] = true
	}

	return &Generator{rng: rng, cfg: cfg, cvmIPs: cvmIPs, badCVMs: badCVMs}
}

// Next produces the next synthetic session target.
func (g *Generator) Next() sessionTarget {
	cvm := g.cvmIPs[g.rng.Intn(len(g.cvmIPs))]
	lp := logPaths[g.rng.Intn(len(logPaths))]
	return sessionTarget{
		cvmIP:     cvm,
		logPath:   lp.path,
		logName:   lp.name,
		reachable: !g.badCVMs[cvm],
	}
}
