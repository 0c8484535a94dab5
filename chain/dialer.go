package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Dialer lazily dials endpoints and caches one connection per URL. It also
// serves as the registry's chain id prober.
type Dialer struct {
	mutex sync.Mutex
	conns map[string]*ethclient.Client
}

func NewDialer() *Dialer {
	return &Dialer{conns: make(map[string]*ethclient.Client)}
}

func (d *Dialer) Get(url string) (*ethclient.Client, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if conn, ok := d.conns[url]; ok {
		return conn, nil
	}
	conn, err := ethclient.Dial(url)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing [%s]", url)
	}
	d.conns[url] = conn
	return conn, nil
}

func (d *Dialer) ChainID(ctx context.Context, url string) (*big.Int, error) {
	conn, err := d.Get(url)
	if err != nil {
		return nil, err
	}
	return conn.ChainID(ctx)
}

func (d *Dialer) Close() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, conn := range d.conns {
		conn.Close()
	}
	d.conns = make(map[string]*ethclient.Client)
}
