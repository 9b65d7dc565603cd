// Command specindex indexes specification text files and prints the
// chunks closest to a query.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cvalentine99/nfa-intent/internal/cli"
	"github.com/cvalentine99/nfa-intent/internal/logging"
	"github.com/cvalentine99/nfa-intent/internal/specindex"
)

type result struct {
	File  string  `json:"file"`
	Score float64 `json:"score"`
	Chunk string  `json:"chunk"`
}

func main() {
	query := flag.String("query", "", "text to search for")
	k := flag.Int("k", 5, "number of chunks to return")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s -query TEXT [-k N] FILE...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if *query == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	logging.Init(&logging.Config{Level: logging.ParseLevel(*logLevel), Output: os.Stderr})

	ix := specindex.New()
	files := flag.Args()
	for _, path := range files {
		text, err := os.ReadFile(path)
		if err != nil {
			cli.Fatal("failed to read document", err)
		}
		n := ix.AddDocument(string(text))
		logging.IndexLogger().Debug("document added", logging.PathKey, path, "chunks", n)
	}
	ix.Build()

	hits, err := ix.Search(*query, *k)
	if err != nil {
		cli.Fatal("search failed", err)
	}
	out := make([]result, len(hits))
	for i, h := range hits {
		out[i] = result{File: files[h.Doc], Score: h.Score, Chunk: h.Chunk}
	}
	if err := cli.PrintJSON(os.Stdout, out); err != nil {
		cli.Fatal("failed to print results", err)
	}
}
