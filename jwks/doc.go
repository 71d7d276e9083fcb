/*
Package jwks fetches, stores and rotates the public keys used to verify
Access tokens.

# Overview

Three pieces cooperate:

  - Store: the active KeySet behind an atomic pointer. Readers never wait on
    each other; a refresh swaps the whole set in one step.
  - Fetcher: downloads the team's certs document and keeps only RSA keys
    published for RS256 signatures. Every other entry is skipped.
  - Coordinator: the refresh policy. Periodic (every 12 hours by default),
    cache-miss and operator triggers all go through one single-flight fetch.

A failed refresh never touches the Store: the last good key set keeps
serving. A successful refresh replaces the set wholesale, which drops keys
the upstream no longer publishes.

# Usage

	fetcher, err := jwks.NewFetcher("https://myteam.cloudflareaccess.com/cdn-cgi/access/certs")
	if err != nil {
	    log.Fatal(err)
	}

	coordinator, err := jwks.NewCoordinator(fetcher,
	    jwks.WithRefreshInterval(12*time.Hour),
	    jwks.WithFetchTimeout(30*time.Second),
	)
	if err != nil {
	    log.Fatal(err)
	}

	// Startup fetch; failure is reported but not fatal.
	if err := coordinator.Bootstrap(ctx); err != nil {
	    log.Printf("initial key fetch failed: %v", err)
	}
	_ = coordinator.Start()
	defer coordinator.Stop(context.Background())

	key, ok := coordinator.Current().Lookup(kid)

# Warm starts

WithMirror persists every good document (see storage/redis). When the
startup fetch fails, Bootstrap installs the mirrored set instead of leaving
the Store empty.
*/
package jwks
