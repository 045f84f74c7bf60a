package modempool

import (
	"context"
	"fmt"
	"net/http"
)

// httpClient is package-level because the probe is a cheap, frequent,
// fire-and-forget reachability check — it needs no connection reuse
// tuning beyond the stdlib default transport.
var httpClient = &http.Client{}

// probeHTTP performs a lightweight GET against the modem's host and
// treats any non-5xx response as reachable; modems in this system are
// HTTP-controlled SMS gateways, not the serial/AT-command devices the
// reconnect monitor this loop is grounded on was written for.
func probeHTTP(ctx context.Context, host string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("modem host %s returned %d", host, resp.StatusCode)
	}
	return nil
}
