package apihttp

import (
	"context"
	"net/http"
	"time"

	"telestream/internal/domain"
)

type playerHealth struct {
	Status           string      `json:"status"`
	ConnectedPlayers int         `json:"connectedPlayers"`
	Pool             *poolHealth `json:"pool,omitempty"`
}

type poolHealth struct {
	TotalClients     int     `json:"totalClients"`
	ClientsInUse     int     `json:"clientsInUse"`
	ClientsAvailable int     `json:"clientsAvailable"`
	Pressure         float64 `json:"pressure"`
	Warning          string  `json:"warning,omitempty"`
}

// BuildPlayerHealth snapshots the engine's health: connected players and the
// backend pool. Pool lookup failures degrade the status instead of failing
// the endpoint, so probes always get an answer.
func (s *Server) BuildPlayerHealth(ctx context.Context) playerHealth {
	health := playerHealth{Status: "ok", ConnectedPlayers: s.wsHub.clientCount()}

	if s.pool == nil {
		return health
	}

	poolCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status, err := s.pool.PoolStatus(poolCtx)
	if err != nil {
		health.Status = "degraded"
		return health
	}

	warning := domain.ClassifyPool(status)
	health.Pool = &poolHealth{
		TotalClients:     status.TotalClients,
		ClientsInUse:     status.ClientsInUse,
		ClientsAvailable: status.ClientsAvailable,
		Pressure:         status.Pressure(),
		Warning:          string(warning),
	}
	if warning != domain.PoolWarningNone {
		health.Status = "degraded"
	}
	return health
}

func (s *Server) handlePlayerHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.BuildPlayerHealth(r.Context()))
}

// BroadcastHealth pushes the current health snapshot to every connected
// player.
func (s *Server) BroadcastHealth(ctx context.Context) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("health", s.BuildPlayerHealth(ctx))
}
