package models

// TokenType identifies who a bearer token authenticates.
type TokenType string

const (
	TokenTypeNone TokenType = "none"
	TokenTypeApp  TokenType = "app"
	TokenTypeUser TokenType = "user"
)

// User is the account the current token belongs to.
type User struct {
	ID        string    `json:"id"`
	Login     string    `json:"user_login"`
	TokenType TokenType `json:"token_type"`
}

// Authenticated reports whether the user token identifies a signed-in user.
func (u *User) Authenticated() bool {
	return u != nil && u.TokenType == TokenTypeUser && u.Login != ""
}
