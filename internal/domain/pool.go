package domain

// PoolStatus is one polled snapshot of the backend's upstream client pool.
// No history is retained beyond the last and current snapshot.
type PoolStatus struct {
	TotalClients     int `json:"totalClients"`
	ClientsInUse     int `json:"clientsInUse"`
	ClientsAvailable int `json:"clientsAvailable"`
}

// Pressure returns the fraction of pool capacity currently in use.
func (p PoolStatus) Pressure() float64 {
	if p.TotalClients <= 0 {
		return 0
	}
	return float64(p.ClientsInUse) / float64(p.TotalClients)
}

// PoolWarning is a user-facing advisory level derived from a PoolStatus
// snapshot. It never alters playback.
type PoolWarning string

const (
	PoolWarningNone         PoolWarning = ""
	PoolWarningNoClients    PoolWarning = "no_clients"    // severe: playback start may fail
	PoolWarningHighPressure PoolWarning = "high_pressure" // advisory: expect degraded throughput
)

// highPressureThreshold is the in-use fraction above which throughput is
// expected to degrade.
const highPressureThreshold = 0.9

// ClassifyPool maps a pool snapshot to a warning level, severe first.
func ClassifyPool(s PoolStatus) PoolWarning {
	if s.TotalClients == 0 && s.ClientsAvailable == 0 {
		return PoolWarningNoClients
	}
	if s.Pressure() >= highPressureThreshold {
		return PoolWarningHighPressure
	}
	return PoolWarningNone
}
