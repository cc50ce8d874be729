package domain

// IdInfo is the claim set of a verified external identity assertion.
type IdInfo struct {
	Iss string
	Sub string
	Aud string
	Iat int64
	Exp int64
}
