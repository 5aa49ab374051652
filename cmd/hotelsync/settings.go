package main

import "time"

type Settings struct {
	Port               int           `env:"PORT,default=8000"`
	JWTSecret          string        `env:"JWT_SECRET,required=true"`
	APIKeys            []string      `env:"API_KEYS,separator=|"`
	BasePath           string        `env:"BASE_PATH,default=/"`
	SessionKey         string        `env:"SESSION_KEY,required=true"`
	SecureCookies      bool          `env:"SECURE_COOKIES,default=true"`
	ConnectionTokenTTL time.Duration `env:"CONNECTION_TOKEN_TTL,default=1m"`
	MongoURI           string        `env:"MONGO_URI"`
	HistoryCapacity    int           `env:"HISTORY_CAPACITY,default=500"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS,separator=|"`
	LogEncoding        string        `env:"LOG_ENCODING,default=console"`
}
