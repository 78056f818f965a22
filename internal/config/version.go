package config

// Version is injected at build time:
//
//	go build -ldflags "-X 'github.com/nzbwatch/nzbwatch/internal/config.Version=1.2.3'"
var Version = "dev"
