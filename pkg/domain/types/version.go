package types

// Version is overwritten at build time via -ldflags
var Version = "dev"

// AppName is used for service identification in logs, health checks and reports
const AppName = "davmirror"
