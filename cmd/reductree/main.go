// Package main provides the entry point for the reductree CLI.
//
// reductree builds processing trees out of registered stages and runs them
// over the scan points of an experiment.
//
// Usage:
//
//	reductree init
//	reductree tree new tree.yaml "Synthetic Ramp" "Scale Values" "Sum"
//	reductree run tree.yaml --points 100
//
// See --help for all available options.
package main

// main is the entry point for reductree.
func main() {
	Execute()
}
