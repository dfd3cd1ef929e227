package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"
)

// GPSD reads position fixes from a gpsd daemon over its TCP/JSON
// protocol. Each Current call opens a fresh connection, enables the
// JSON watch stream, and waits for the first usable TPV report.
type GPSD struct {
	addr   string
	logger *log.Logger
}

// NewGPSD creates a Reader backed by the gpsd daemon at addr
// (typically "localhost:2947").
func NewGPSD(addr string, logger *log.Logger) *GPSD {
	if logger == nil {
		logger = log.New(os.Stderr, "[gpsd] ", log.LstdFlags)
	}
	return &GPSD{addr: addr, logger: logger}
}

// tpvReport is the subset of gpsd's TPV message this reader consumes.
type tpvReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	EPH   *float64 `json:"eph"`
	EPX   *float64 `json:"epx"`
	EPY   *float64 `json:"epy"`
}

// Current implements Reader. A daemon that cannot be dialed reports
// ErrUnavailable; a connected daemon that produces no fix before the
// ctx deadline reports a timeout error.
func (g *GPSD) Current(ctx context.Context) (*Fix, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", g.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set connection deadline: %w", err)
		}
	}

	if _, err := fmt.Fprintf(conn, "?WATCH={\"enable\":true,\"json\":true}\n"); err != nil {
		return nil, fmt.Errorf("failed to enable gpsd watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var tpv tpvReport
		if err := json.Unmarshal(scanner.Bytes(), &tpv); err != nil {
			g.logger.Printf("Skipping unparseable gpsd line: %v", err)
			continue
		}

		// Mode 2 = 2D fix, 3 = 3D fix
		if tpv.Class != "TPV" || tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
			continue
		}

		return &Fix{
			Latitude:  *tpv.Lat,
			Longitude: *tpv.Lon,
			Accuracy:  tpv.accuracy(),
			Time:      time.Now(),
		}, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gpsd stream ended without a fix: %w", err)
	}
	return nil, fmt.Errorf("gpsd stream closed without a fix")
}

// accuracy derives a horizontal error estimate: eph when the daemon
// provides it, otherwise the larger per-axis estimate.
func (t *tpvReport) accuracy() float64 {
	if t.EPH != nil {
		return *t.EPH
	}
	var acc float64
	if t.EPX != nil {
		acc = *t.EPX
	}
	if t.EPY != nil && *t.EPY > acc {
		acc = *t.EPY
	}
	return acc
}
