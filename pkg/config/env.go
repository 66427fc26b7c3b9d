package config

// EnvPrefix is empty because every tag spells out its full variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv      = "PUSHPAY_APP_ENV"
	EnvPort        = "PUSHPAY_APP_PORT"
	EnvDBDSN       = "PUSHPAY_DB_DSN"
	EnvDBHost      = "PUSHPAY_DB_HOST"
	EnvDBUser      = "PUSHPAY_DB_USER"
	EnvDBName      = "PUSHPAY_DB_NAME"
	EnvRedisURL    = "PUSHPAY_REDIS_URL"
	EnvJWTSecret   = "PUSHPAY_JWT_SECRET"
	EnvJWTIssuer   = "PUSHPAY_JWT_ISSUER"
	EnvCallbackURL = "PUSHPAY_MPESA_CALLBACK_URL"

	EnvMpesaCredentials    = "MPESA_CREDENTIALS"
	EnvMpesaConsumerKey    = "MPESA_CONSUMER_KEY"
	EnvMpesaConsumerSecret = "MPESA_CONSUMER_SECRET"
	EnvMpesaPasskey        = "MPESA_PASSKEY"
	EnvMpesaShortcode      = "MPESA_SHORTCODE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
