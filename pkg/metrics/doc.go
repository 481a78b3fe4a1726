// Package metrics defines the Prometheus counters recorded during a mlaasctl
// run, covering outbound API calls, authentication, account resolution,
// catalog lookups and provisioning. They can be dumped to a textfile.
package metrics
