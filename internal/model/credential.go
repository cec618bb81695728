package model

// Credentials is the persisted secret and token state.
// SecretID and SecretKey are provisioned out of band and never written by
// bankfeed; the tokens are empty until first issued.
type Credentials struct {
	SecretID     string
	SecretKey    string
	AccessToken  string
	RefreshToken string
}

// HasSecrets reports whether both secrets needed to generate tokens are set.
func (c Credentials) HasSecrets() bool {
	return c.SecretID != "" && c.SecretKey != ""
}

// TokenPair is the result of a token generation or refresh.
// RefreshToken is empty when a refresh did not rotate it.
type TokenPair struct {
	AccessToken      string
	AccessExpiresIn  int // seconds
	RefreshToken     string
	RefreshExpiresIn int // seconds
}

// Mask returns a short, log-safe prefix of a secret.
func Mask(secret string) string {
	if secret == "" {
		return "<none>"
	}
	if len(secret) <= 6 {
		return "***"
	}
	return secret[:6] + "..."
}
