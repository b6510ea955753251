// Package fetch downloads vendor module sources that a manifest or a
// session names by URL. Sources are fetched once, at configuration time,
// and handed to the sandbox as ordinary lazily evaluated vendor code.
//
//	client := fetch.NewClient(fetch.DefaultConfig(), logger)
//	vendor, err := client.Resolve(ctx, map[string]string{
//		"left-pad": "https://cdn.example.com/left-pad.js",
//	})
package fetch
