package domain

type UserID string

// User is the stable identity of an endpoint's owner. For a session's
// partner it is optional: negotiation never depends on it, only
// friend-relationship lookups do.
type User struct {
	ID   UserID `json:"id"`
	Nick string `json:"nick"`
}
