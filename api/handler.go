package api

import (
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/db"
	"github.com/blobworks/blob-revenue-engine/domain"
	"github.com/blobworks/blob-revenue-engine/endpoints"
)

type StatusProvider interface {
	GetLastCycle() (uint64, error)
	GetTotalEarned() (*big.Int, error)
	GetCounts() (db.Counts, error)
	GetSweptSources(day uint64) (map[string]string, error)
}

type EndpointProvider interface {
	Snapshot() []endpoints.Endpoint
}

type Handler struct {
	sp  StatusProvider
	ep  EndpointProvider
	clk clock.Clock
}

type StatusResponse struct {
	LastCycle      uint64            `json:"lastCycle"`
	TotalEarnedWei string            `json:"totalEarnedWei"`
	Cycles         uint64            `json:"cycles"`
	FailedCycles   uint64            `json:"failedCycles"`
	Fallbacks      uint64            `json:"fallbacks"`
	Sweeps         uint64            `json:"sweeps"`
	SweptToday     map[string]string `json:"sweptToday"`
	Endpoints      []EndpointStatus  `json:"endpoints"`
}

type EndpointStatus struct {
	URL       string    `json:"url"`
	Network   string    `json:"network"`
	Healthy   bool      `json:"healthy"`
	LastProbe time.Time `json:"lastProbe"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func NewHandler(sp StatusProvider, ep EndpointProvider, clk clock.Clock) *Handler {
	return &Handler{sp: sp, ep: ep, clk: clk}
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(HealthResponse{
		Status: "UP",
	})
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}

func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	lastCycle, err := h.sp.GetLastCycle()
	if err != nil && !errors.Is(err, db.ErrNotFound) { // a fresh engine has no cycle yet
		log.Printf("Error getting last cycle: %v", err)
		http.Error(w, "Error getting last cycle", 500)
		return
	}

	totalEarned, err := h.sp.GetTotalEarned()
	if err != nil {
		log.Printf("Error getting total earned: %v", err)
		http.Error(w, "Error getting total earned", 500)
		return
	}

	counts, err := h.sp.GetCounts()
	if err != nil {
		log.Printf("Error getting counters: %v", err)
		http.Error(w, "Error getting counters", 500)
		return
	}

	sweptToday, err := h.sp.GetSweptSources(domain.RotationDayAt(h.clk.Now()))
	if err != nil {
		log.Printf("Error getting swept sources: %v", err)
		http.Error(w, "Error getting swept sources", 500)
		return
	}

	var endpointStatuses []EndpointStatus
	for _, endpoint := range h.ep.Snapshot() {
		endpointStatuses = append(endpointStatuses, EndpointStatus{
			URL:       endpoint.URL,
			Network:   endpoint.Network,
			Healthy:   endpoint.Healthy,
			LastProbe: endpoint.LastProbe,
		})
	}

	w.Header().Add("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(StatusResponse{
		LastCycle:      lastCycle,
		TotalEarnedWei: totalEarned.String(),
		Cycles:         counts.Cycles,
		FailedCycles:   counts.FailedCycles,
		Fallbacks:      counts.Fallbacks,
		Sweeps:         counts.Sweeps,
		SweptToday:     sweptToday,
		Endpoints:      endpointStatuses,
	})
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", 500)
		return
	}
}
