package switching

import "github.com/cpopescu/streamgraph/internal/graph"

// distributor fans one flavour's tags out to every client request that
// asked for it, grounded on the TagDistributor the switching element's
// header names (one per flavour slot).
type distributor struct {
	clients map[*graph.Request]graph.ProcessingCallback
}

func newDistributor() *distributor {
	return &distributor{clients: make(map[*graph.Request]graph.ProcessingCallback)}
}

func (d *distributor) add(req *graph.Request, cb graph.ProcessingCallback) {
	d.clients[req] = cb
}

func (d *distributor) remove(req *graph.Request) {
	delete(d.clients, req)
}

func (d *distributor) empty() bool { return len(d.clients) == 0 }

func (d *distributor) count() int { return len(d.clients) }
