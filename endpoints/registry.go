package endpoints

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/blobworks/blob-revenue-engine/clock"
	"github.com/blobworks/blob-revenue-engine/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Prober checks which chain an endpoint actually serves.
type Prober interface {
	ChainID(ctx context.Context, url string) (*big.Int, error)
}

// Endpoint is one upstream RPC endpoint of a logical network.
type Endpoint struct {
	URL       string
	Network   string
	Healthy   bool
	LastProbe time.Time
}

// Network is one logical network with its ordered endpoint list and the
// chain id every endpoint must serve.
type Network struct {
	Name    string
	ChainID *big.Int
	URLs    []string
}

type networkState struct {
	expected  *big.Int
	cursor    int
	endpoints []*Endpoint
}

// Registry hands out endpoints per network. Select probes the endpoint at
// the cursor; an unhealthy one is rotated away from and the replacement is
// returned unprobed, so its first real use vets it. The cursor wraps, there
// is no blacklist and no backoff. The mutex guards cursor and endpoint
// health state, which the processor mutates while the API reads snapshots.
type Registry struct {
	mutex        sync.Mutex
	networks     map[string]*networkState
	prober       Prober
	probeTimeout time.Duration
	clk          clock.Clock
	metrics      *metrics.ProcessingMetrics
	logger       *zap.SugaredLogger
}

func NewRegistry(prober Prober, networks []Network, probeTimeout time.Duration,
	clk clock.Clock, m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) (*Registry, error) {

	if len(networks) == 0 {
		return nil, errors.New("at least one network is required")
	}
	states := make(map[string]*networkState, len(networks))
	for _, network := range networks {
		if len(network.URLs) == 0 {
			return nil, errors.Errorf("network [%s] needs at least one endpoint", network.Name)
		}
		if network.ChainID == nil {
			return nil, errors.Errorf("network [%s] needs an expected chain id", network.Name)
		}
		eps := make([]*Endpoint, 0, len(network.URLs))
		for _, url := range network.URLs {
			eps = append(eps, &Endpoint{URL: url, Network: network.Name})
		}
		states[network.Name] = &networkState{expected: network.ChainID, endpoints: eps}
	}
	return &Registry{
		networks:     states,
		prober:       prober,
		probeTimeout: probeTimeout,
		clk:          clk,
		metrics:      m,
		logger:       logger,
	}, nil
}

// Select returns the endpoint to use for the next call on the network. The
// probe runs under the lock, bounded by the probe timeout.
func (r *Registry) Select(ctx context.Context, network string) (*Endpoint, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, ok := r.networks[network]
	if !ok {
		return nil, errors.Errorf("unknown network [%s]", network)
	}
	candidate := state.endpoints[state.cursor]

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	chainID, err := r.prober.ChainID(probeCtx, candidate.URL)
	candidate.LastProbe = r.clk.Now()
	if err == nil && chainID != nil && chainID.Cmp(state.expected) == 0 {
		candidate.Healthy = true
		return candidate, nil
	}

	candidate.Healthy = false
	if err != nil {
		r.logger.Warnw("endpoint probe failed", "network", network, "url", candidate.URL, "error", err)
	} else {
		r.logger.Warnw("endpoint serves unexpected chain", "network", network, "url", candidate.URL, "chainId", chainID)
	}
	return r.rotate(network, state), nil
}

// Rotate moves the cursor off the current endpoint after a failed call and
// returns the new candidate unprobed.
func (r *Registry) Rotate(network string) (*Endpoint, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, ok := r.networks[network]
	if !ok {
		return nil, errors.Errorf("unknown network [%s]", network)
	}
	state.endpoints[state.cursor].Healthy = false
	return r.rotate(network, state), nil
}

func (r *Registry) rotate(network string, state *networkState) *Endpoint {
	state.cursor = (state.cursor + 1) % len(state.endpoints)
	r.metrics.IncEndpointRotations(network)
	return state.endpoints[state.cursor]
}

// Snapshot returns a copy of all endpoint states for the status endpoint.
func (r *Registry) Snapshot() []Endpoint {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var snapshot []Endpoint
	for _, state := range r.networks {
		for _, endpoint := range state.endpoints {
			snapshot = append(snapshot, *endpoint)
		}
	}
	return snapshot
}
