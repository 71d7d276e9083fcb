/*
Package validator verifies the application tokens an access-control edge
service (Cloudflare Access) attaches to proxied requests.

Validate never returns a Go error. Every token ends in an Outcome that is
either accepted, carrying the identity Claims, or rejected with exactly one
core.Reason. The checks short-circuit in a fixed order:

 1. structure: three base64url segments with JSON header and payload
 2. header: alg must be RS256 and kid must be present
 3. claims must decode
 4. key lookup by kid; an unknown kid triggers one refresh of the key set
 5. RS256 signature
 6. exp strictly in the future (optionally with clock skew)
 7. iss equals the configured issuer
 8. aud contains the expected audience

# Usage

	coordinator, _ := jwks.NewCoordinator(fetcher)
	v, err := validator.New(
	    validator.WithKeyProvider(coordinator),
	    validator.WithIssuer("https://myteam.cloudflareaccess.com"),
	)
	if err != nil {
	    log.Fatal(err)
	}

	outcome := v.Validate(ctx, rawToken, "my-app-aud")
	if !outcome.Accepted() {
	    log.Printf("rejected: %s", outcome.Reason())
	}
*/
package validator
