package auth

// Identity is the set of facts read from a verified login: who the provider
// says the user is. It carries no account decisions.
type Identity struct {
	Subject  string // provider-scoped stable identifier (sub)
	Issuer   string // provider URL the subject belongs to
	RealName string
	Email    string
}

// Path names the branch that resolved a login.
type Path string

const (
	PathDirect   Path = "direct"   // an existing link matched
	PathEmail    Path = "email"    // migrated onto an unlinked account by email
	PathUsername Path = "username" // migrated onto an unlinked account by name
	PathNew      Path = "new"      // no account yet; the caller creates one
)

// Result is the outcome of a successful login resolution.
// UserID is 0 when the caller must create a new account named Username and
// then save the link for it.
type Result struct {
	UserID   int64
	Username string
	RealName string
	Email    string
	Subject  string
	Issuer   string
	Path     Path
}

// NewAccount reports whether the caller has to create the account.
func (r *Result) NewAccount() bool {
	return r.UserID == 0
}
