// Command gateway runs the admission gateway: a rate-limit decision service
// that reverse proxies and services consult before handling a request.
//
// Usage:
//
//	# Start the server with config.json in the working directory
//	gateway serve
//
//	# Start with a custom configuration file
//	gateway serve --config /etc/gateway/config.json
//
//	# Check a rule file without starting the server
//	gateway rules validate rules.yaml
//
//	# Show version information
//	gateway version
package main

func main() {
	Execute()
}
