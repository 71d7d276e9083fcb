/*
Package forwardauth answers a reverse proxy's forward-auth subrequests
(nginx auth_request) for applications behind Cloudflare Access.

The proxy sends every protected request to GET /auth. The handler reads the
token from the CF-Authorization header or the CF_Authorization cookie, reads
the expected audience from the X-Expected-Audience header or the aud query
parameter, and answers 204 when the validator accepts the token, 401
otherwise. Bodies are always empty; the reason for a rejection only appears
in logs, metrics and traces.

# Quick Start

	fetcher, err := jwks.NewFetcher("https://myteam.cloudflareaccess.com/cdn-cgi/access/certs")
	if err != nil {
	    log.Fatal(err)
	}
	coordinator, err := jwks.NewCoordinator(fetcher)
	if err != nil {
	    log.Fatal(err)
	}
	_ = coordinator.Bootstrap(ctx) // a failed first fetch is not fatal
	_ = coordinator.Start()

	v, err := validator.New(
	    validator.WithKeyProvider(coordinator),
	    validator.WithIssuer("https://myteam.cloudflareaccess.com"),
	)
	if err != nil {
	    log.Fatal(err)
	}

	h, err := forwardauth.New(
	    forwardauth.WithValidator(v),
	    forwardauth.WithKeyManager(coordinator),
	)
	if err != nil {
	    log.Fatal(err)
	}
	forwardauth.NewRouter(h, logrus.StandardLogger()).Run(":8080")

# Endpoints

  - GET /auth: 204 or 401, with X-Auth-Email and X-Auth-Subject on 204
  - GET /health: 200 while the process serves
  - GET /refresh-keys: refreshes the key set and waits; 200 or 500
  - GET /keys/status: key ids and refresh state as JSON

Every response carries no-cache headers and an X-Request-Id.

# nginx

	location = /_auth {
	    internal;
	    proxy_pass http://127.0.0.1:8080/auth;
	    proxy_pass_request_body off;
	    proxy_set_header Content-Length "";
	    proxy_set_header X-Expected-Audience "<application audience tag>";
	}

	location / {
	    auth_request /_auth;
	    auth_request_set $auth_email $upstream_http_x_auth_email;
	    proxy_set_header X-Auth-Email $auth_email;
	    proxy_pass http://app;
	}

# Gin applications

RequireAccess applies the same check in-process and stores the claims in the
request context:

	r.GET("/private", h.RequireAccess("my-app-aud"), func(c *gin.Context) {
	    claims, _ := core.GetClaims[*validator.Claims](c.Request.Context())
	    c.String(http.StatusOK, claims.Email)
	})
*/
package forwardauth
