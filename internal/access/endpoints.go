// Package access derives the team-domain endpoints of a Cloudflare Access
// team: the issuer written into application tokens and the certs document
// listing the signing keys.
package access

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DomainSuffix is appended to the team name to form the team domain.
const DomainSuffix = ".cloudflareaccess.com"

// CertsPath is where a team domain publishes its signing keys.
const CertsPath = "/cdn-cgi/access/certs"

// ErrInvalidTeamName is returned for team names that cannot form a hostname.
var ErrInvalidTeamName = errors.New("invalid team name")

var teamNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Endpoints holds the URLs derived from a team name.
type Endpoints struct {
	// Issuer is compared verbatim to the iss claim.
	Issuer   string
	CertsURL string
}

// EndpointsForTeam derives the issuer and certs URL for team. The name is
// lower-cased; a full team domain ("myteam.cloudflareaccess.com") is accepted
// too.
func EndpointsForTeam(team string) (Endpoints, error) {
	name := strings.ToLower(strings.TrimSpace(team))
	name = strings.TrimSuffix(name, DomainSuffix)
	if name == "" {
		return Endpoints{}, fmt.Errorf("%w: team name is required", ErrInvalidTeamName)
	}
	if !teamNamePattern.MatchString(name) {
		return Endpoints{}, fmt.Errorf("%w: %q is not a DNS label", ErrInvalidTeamName, team)
	}

	issuer := url.URL{Scheme: "https", Host: name + DomainSuffix}
	certs := issuer
	certs.Path = CertsPath
	return Endpoints{Issuer: issuer.String(), CertsURL: certs.String()}, nil
}
