package server

// Set at build time with -ldflags "-X github.com/aman-churiwal/admission-gateway/internal/server.Version=..."
var Version = "dev"
