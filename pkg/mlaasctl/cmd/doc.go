// Package cmd implements the cobra command tree for mlaasctl: the list, init
// and interactive key flows on the root command plus the auth, config,
// version and completion subcommands.
package cmd
