package main

import (
	"flag"
	"fmt"
	"os"

	"astrolink/pkg/logger"
	"astrolink/pkg/store"
)

// inspect dumps keys (and optionally values) from a local astrolink
// cache. Useful when debugging identity divergence across storage
// locations.
func main() {
	var p, prefix string
	var values bool
	flag.StringVar(&p, "path", "", "local store path")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter")
	flag.BoolVar(&values, "values", false, "print values as well")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()

	st, err := store.Open(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	keys, err := st.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		if !values {
			fmt.Println(k)
			continue
		}
		v, err := st.Get(k)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, v)
	}
}
