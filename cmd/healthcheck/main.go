// Package main probes the proxy's /health endpoint and exits non-zero when
// the proxy is not serving. It replaces wget/curl in scratch-based container
// images.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", defaultAddr(), "host:port of the proxy to probe")
	timeout := flag.Duration("timeout", 5*time.Second, "probe timeout")
	flag.Parse()

	if err := probe(*addr, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
}

// defaultAddr derives the probe target from the same HOST and PORT variables
// the proxy itself listens on. HOST may be 0.0.0.0 inside a container, in
// which case loopback is the reachable address.
func defaultAddr() string {
	host := os.Getenv("HOST")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "10000"
	}
	return host + ":" + port
}

func probe(addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
