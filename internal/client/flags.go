package client

import "github.com/spf13/pflag"

// AddFlags adds the flags relevant to constructing an APIClient to the given flag set.
func AddFlags(opts *Opts, flags *pflag.FlagSet) {
	flags.Uint64Var(&opts.Timeout, "remote-cache-timeout", ClientTimeout, "Set the timeout in seconds for all http requests to the remote cache.")
	flags.BoolVar(&opts.UsePreflight, "preflight", false, "When enabled, turbo will precede HTTP requests with an OPTIONS request for authorization.")
}
