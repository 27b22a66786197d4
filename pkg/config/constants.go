package config

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "COACHLOOP"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv = "COACHLOOP_APP_ENV"
	EnvDBDSN  = "COACHLOOP_DB_DSN"
	EnvDBHost = "COACHLOOP_DB_HOST"
	EnvDBUser = "COACHLOOP_DB_USER"
	EnvDBName = "COACHLOOP_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
