package main

import "net/http"

// staticHandler serves dir under the given URL prefix, for the optional
// --static-dir/--static-path pair.
func staticHandler(prefix, dir string) http.Handler {
	return http.StripPrefix(trimTrailingSlash(prefix), http.FileServer(http.Dir(dir)))
}
