package reactor

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rpcarback/buddyfs/internal/wire"
)

// Stats tracks reactor-wide counters, grounded directly on the teacher's
// kcp.DefaultSnmp usage in std/snmp.go: a flat set of counters dumped to a
// CSV file on a period, rather than a metrics library.
type Stats struct {
	FramesIn      int64
	FramesOut     int64
	BytesIn       int64
	BytesOut      int64
	PeersOpened   int64
	PeersClosed   int64
	RateLimitHits int64
}

func (s *Stats) Header() []string {
	return []string{"FramesIn", "FramesOut", "BytesIn", "BytesOut", "PeersOpened", "PeersClosed", "RateLimitHits"}
}

func (s *Stats) ToSlice() []string {
	return []string{
		fmt.Sprint(atomic.LoadInt64(&s.FramesIn)),
		fmt.Sprint(atomic.LoadInt64(&s.FramesOut)),
		fmt.Sprint(atomic.LoadInt64(&s.BytesIn)),
		fmt.Sprint(atomic.LoadInt64(&s.BytesOut)),
		fmt.Sprint(atomic.LoadInt64(&s.PeersOpened)),
		fmt.Sprint(atomic.LoadInt64(&s.PeersClosed)),
		fmt.Sprint(atomic.LoadInt64(&s.RateLimitHits)),
	}
}

// ReportBandwidth records the prior second's egress bytes for addr. The
// default implementation just folds it into BytesOut; it exists as a named
// hook so tests can observe per-connection rate-limit behavior (property 6).
func (s *Stats) ReportBandwidth(addr wire.NetAddress, bytesSent int) {
	atomic.AddInt64(&s.BytesOut, int64(bytesSent))
}

// SnmpLogger periodically appends a CSV row of counters to path, exactly
// like the teacher's std.SnmpLogger: timestamp column first, one row per
// period, header written once for an empty file.
func SnmpLogger(stats *Stats, path string, interval time.Duration) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(logdir+time.Now().Format(logfile), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println(err)
			return
		}
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, stats.Header()...)); err != nil {
				log.Println(err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, stats.ToSlice()...)); err != nil {
			log.Println(err)
		}
		w.Flush()
		f.Close()
	}
}
