package version

// Version is the current version of mmv.
// Can be overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.4.0"

// Name is the application name.
const Name = "mmv"

// Description is a short description of the application.
const Description = "MySQL migration verifier: schema, row count and content checks"
