package port

import "context"

// TokenPair carries the credential pair returned to a freshly registered user.
type TokenPair struct {
	Access  string
	Refresh string
}

// TokenIssuer issues a credential pair for the given user. The issuer is
// opaque to the account pipeline.
type TokenIssuer interface {
	IssueFor(ctx context.Context, userID string) (TokenPair, error)
}
