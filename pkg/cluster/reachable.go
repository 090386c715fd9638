package cluster

import (
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kubengine/kubengine/pkg/cluster/node"
	"github.com/kubengine/kubengine/pkg/log"
	"github.com/kubengine/kubengine/pkg/types"
)

// Dial is the connection factory used for reachability probes. Tests
// override it to avoid real SSH connections.
var Dial = node.Connect

// IsReachable probes SSH reachability of the given hosts, at most
// parallel at a time, each attempt bounded by the connect timeout in
// opts. It returns the reachable and unreachable host lists in lexical
// order. The local host alias is always reachable.
func IsReachable(hosts []string, opts *types.NodeConnectOptions, parallel int) (reachable, unreachable []string) {
	if parallel < 1 {
		parallel = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	reachable = make([]string, 0, len(hosts))
	unreachable = make([]string, 0)

	pool, err := ants.NewPoolWithFunc(parallel, func(arg interface{}) {
		defer wg.Done()
		host := arg.(string)
		hostOpts := *opts
		hostOpts.Address = host
		n, err := Dial(&hostOpts)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			log.Debugf("Host %s is unreachable: %s\n", host, err)
			unreachable = append(unreachable, host)
			return
		}
		if cerr := n.Close(); cerr != nil {
			log.Debugf("Error closing probe connection to %s: %s\n", host, cerr)
		}
		reachable = append(reachable, host)
	})
	if err != nil {
		// Pool creation only fails on invalid size, fall back to serial.
		for _, host := range hosts {
			hostOpts := *opts
			hostOpts.Address = host
			if n, derr := Dial(&hostOpts); derr != nil {
				unreachable = append(unreachable, host)
			} else {
				n.Close()
				reachable = append(reachable, host)
			}
		}
		sort.Strings(reachable)
		sort.Strings(unreachable)
		return reachable, unreachable
	}
	defer pool.Release()

	for _, host := range hosts {
		wg.Add(1)
		if err := pool.Invoke(host); err != nil {
			wg.Done()
			mu.Lock()
			unreachable = append(unreachable, host)
			mu.Unlock()
		}
	}
	wg.Wait()

	sort.Strings(reachable)
	sort.Strings(unreachable)
	return reachable, unreachable
}
