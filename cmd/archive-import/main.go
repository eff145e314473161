// The archive-import command bulk-loads one or more mbox files into a
// mailing list's archive, per spec.md §6:
//
//	archive-import --store URL --list FQDN [--since DATE] [--continue] [--no-download] [--duplicates] mbox...
//
// Modeled on cmd/spillbox/spillbox_main.go's flag handling and
// exit-code discipline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"listarchive/app"
	"listarchive/config"
	"listarchive/importer"
	"listarchive/store"
)

func main() {
	flagStore := flag.String("store", "", "store URL, e.g. sqlite:///path/to/db or postgres://...")
	flagList := flag.String("list", "", "fully-qualified list name, e.g. list@example.org")
	flagSince := flag.String("since", "", "only import messages dated after this RFC3339 timestamp")
	flagContinue := flag.Bool("continue", false, "resume from the list's latest archived date")
	flagNoDownload := flag.Bool("no-download", false, "skip attachment URL downloads for Pipermail stubs")
	flagDuplicates := flag.Bool("duplicates", false, "force-import duplicate Message-IDs with a randomized suffix")
	flagVerbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *flagStore == "" || *flagList == "" {
		fmt.Fprintf(os.Stderr, "usage: %s --store URL --list FQDN [flags] mbox...\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "%s: no mbox file given\n", os.Args[0])
		os.Exit(2)
	}
	if *flagSince != "" && *flagContinue {
		fmt.Fprintf(os.Stderr, "%s: --since and --continue are mutually exclusive\n", os.Args[0])
		os.Exit(2)
	}

	var since time.Time
	if *flagSince != "" {
		var err error
		since, err = time.Parse(time.RFC3339, *flagSince)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: invalid --since value: %v\n", os.Args[0], err)
			os.Exit(2)
		}
	}

	settings := config.Load()
	settings.StoreURL = *flagStore

	ctx := context.Background()
	a, err := app.Open(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer a.Close()

	list := store.List{
		Name:          *flagList,
		ArchivePolicy: store.ArchivePublic,
		CreatedAt:     time.Now().UTC(),
	}

	opts := importer.Options{
		Since:      since,
		Continue:   *flagContinue,
		NoDownload: *flagNoDownload,
		Duplicates: *flagDuplicates,
		Verbose:    *flagVerbose,
		Logf: func(format string, v ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", v...)
		},
	}

	delayed := a.UseDelayedIndex()

	var failed bool
	for _, path := range flag.Args() {
		fmt.Printf("importing from mbox file %s\n", path)
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			failed = true
			continue
		}
		res, err := importer.FromMbox(ctx, a.Orchestrator, list, f, opts)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", os.Args[0], path, err)
			failed = true
			continue
		}
		fmt.Printf("  %d read, %d stored, %d skipped\n", res.Read, res.Stored, res.Skipped)
	}

	if delayed != nil {
		if err := delayed.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: flushing search index: %v\n", os.Args[0], err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}
