package cgacct

import (
	"time"

	"github.com/arjunpillai/metricsd/pkg/ratecache"
)

// Sampler adapts Manager to the driver's Name()/Read() sampler shape,
// stamping each tick with the current time as the counter-cache fallback
// timestamp Tick needs.
type Sampler struct {
	Manager *Manager
}

func (Sampler) Name() string { return "cgacct" }

func (s Sampler) Read() ([]ratecache.Datapoint, error) {
	return s.Manager.Tick(time.Now().Unix())
}
