// Package main provides the entry point for the torrotate CLI.
//
// torrotate starts one or more Tor processes and rotates their exit
// address on demand, printing every address it was given.
//
// Usage:
//
//	torrotate rotate --count 5
//	torrotate rotate --exit-nodes '{us},{de}' --instances 3 --save
//	torrotate history --markdown
//
// See --help for all available options.
package main

func main() {
	Execute()
}
