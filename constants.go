package oauth

// Endpoint paths
const (
	AuthorizePath = "/oauth/authorize"
	LoginPath     = "/oauth/login"
	TokenPath     = "/oauth/token"
	RegisterPath  = "/oauth/register"
	MetadataPath  = "/.well-known/oauth-authorization-server"
)

// Protocol values (RFC 6749)
const (
	GrantTypeAuthorizationCode = "authorization_code"
	ResponseTypeCode           = "code"
	TokenTypeBearer            = "Bearer"
)
