package translogmetrics

import (
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/bytefmt"

	"github.com/quiverdb/translog/internal/logging"
)

// StartDiskUsageMonitor samples the total size of every regular file
// under dir on each tick and publishes it through c, until stop is
// closed.
func StartDiskUsageMonitor(c *Collector, dir string, interval time.Duration, stop <-chan struct{}) {
	sample := func() {
		size := diskUsage(dir)
		c.Set(float64(size))
		logging.Debug("translog: %s now using %s on disk", dir, bytefmt.ByteSize(uint64(size)))
	}
	sample()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			sample()
		}
	}
}

func diskUsage(dir string) int64 {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		logging.Error("translog: measuring disk usage of %s: %v", dir, err)
	}
	return total
}
