package detector

import (
	"context"
	"strconv"
	"time"

	psnet "github.com/shirou/gopsutil/v4/net"
)

const listenStatus = "LISTEN"

// enumerateTimeout bounds a single listener enumeration.
const enumerateTimeout = 5 * time.Second

// listConnections is swapped in tests.
var listConnections = psnet.ConnectionsWithContext

// Port detects a server by looking for an active TCP listener on Port.
type Port struct{ Port int }

// Alive enumerates local TCP listeners. The enumeration error, if any, is
// returned alongside false so callers can log why detection was inconclusive.
func (d Port) Alive() (bool, error) {
	if d.Port <= 0 || d.Port > 65535 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), enumerateTimeout)
	defer cancel()
	conns, err := listConnections(ctx, "tcp")
	if err != nil {
		return false, err
	}
	for _, c := range conns {
		if c.Status == listenStatus && int(c.Laddr.Port) == d.Port {
			return true, nil
		}
	}
	return false, nil
}

func (d Port) Describe() string { return "port:" + strconv.Itoa(d.Port) }

// IsPortActive reports whether a local TCP listener is bound to port.
// Enumeration failures count as "not active": a real conflict surfaces later
// when the dev server fails to bind.
func IsPortActive(port int) bool {
	ok, _ := Port{Port: port}.Alive()
	return ok
}
