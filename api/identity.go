/*
identity.go - Caller identity extraction

PURPOSE:
  The service sits behind a gateway that authenticates requests and
  forwards the resolved user id in the X-User-Id header. Handlers treat
  that header as a trusted caller attribute; a missing or malformed
  header means an anonymous caller (id 0), which the engine rejects
  with Unauthorized on any operation that needs an identity.

SEE ALSO:
  - auth.go: Issues the session tokens the gateway validates
*/
package api

import (
	"net/http"
	"strconv"

	"github.com/playtrade/market-engine/market"
)

// identityHeader carries the authenticated user id set by the gateway.
const identityHeader = "X-User-Id"

// callerID returns the authenticated caller, or 0 for anonymous.
func callerID(r *http.Request) market.UserID {
	raw := r.Header.Get(identityHeader)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return market.UserID(id)
}
