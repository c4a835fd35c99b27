package credentials

import "github.com/google/uuid"

// credentialNamespace is the UUID namespace credential ids are derived in.
// Changing it would orphan every stored secret.
var credentialNamespace = uuid.MustParse("7c1e4a52-3b9d-5e80-a6f1-2d4c8b90e317")

// GenerateCredentialID derives the secret-store key for a site and user.
//
// The id is a name-based UUID (version 5, SHA-1) of
// keyOrSiteID + "::" + userID in a fixed namespace. It is deterministic and
// stable across restarts, so the same (key, user) pair always addresses the
// same stored secret.
func GenerateCredentialID(keyOrSiteID, userID string) string {
	return uuid.NewSHA1(credentialNamespace, []byte(keyOrSiteID+"::"+userID)).String()
}
