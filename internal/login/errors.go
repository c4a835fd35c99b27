package login

// NoProviderError is returned when no OAuth provider serves a host.
type NoProviderError struct {
	Host string
}

func (e *NoProviderError) Error() string {
	return "No provider found for " + e.Host
}

// noTokenMessage is shown when the git token login finds nothing.
const noTokenMessage = "No hardcoded Bitbucket auth token found"
