// The archive-updatedb command applies pending schema migrations and,
// if the search index predates a field the current binary needs,
// rebuilds it from the store. Per spec.md §6:
//
//	archive-updatedb --settings MODULE
//
// "MODULE" in the original Python tool names a settings module to
// import; here it names an environment file to load before falling
// back to the process environment, since this engine's config.Load
// reads os.Getenv directly rather than importing Python code.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"listarchive/config"
	"listarchive/search"
	"listarchive/store"
	"listarchive/store/pgstore"
	"listarchive/store/sqlitestore"
)

func main() {
	flagSettings := flag.String("settings", "", "path to a KEY=VALUE environment file (optional; falls back to the process environment)")
	flag.Parse()

	if *flagSettings != "" {
		if err := loadEnvFile(*flagSettings); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
	}

	settings := config.Load()
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}

	ctx := context.Background()

	var st store.Store
	if settings.StoreDriver() == "sqlite" {
		opened, err := sqlitestore.Open(settings.StorePath(), 4)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: applying migrations: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		fmt.Println("schema migrations applied")
		st = opened
	} else {
		opened, err := pgstore.Open(ctx, settings.StoreURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		fmt.Println("postgres store: schema is applied inline at connection time, nothing to migrate")
		st = opened
	}
	defer st.Close()

	if settings.SearchIndex == "" {
		os.Exit(0)
	}

	idx, err := search.Open(settings.SearchIndex)
	needsRebuild := err == search.ErrNeedsRebuild
	if needsRebuild {
		fmt.Println("search index missing user_id field, rebuilding from store...")
		idx, err = search.OpenForRebuild(settings.SearchIndex)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: opening search index: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	defer idx.Close()

	if !needsRebuild {
		os.Exit(0)
	}

	lists, err := settingsLists()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	if len(lists) == 0 {
		fmt.Println("no lists named for rebuild; pass them via the UPDATEDB_LISTS environment variable")
		os.Exit(1)
	}

	if err := search.Rebuild(ctx, idx, st, lists); err != nil {
		fmt.Fprintf(os.Stderr, "%s: rebuilding search index: %v\n", os.Args[0], err)
		os.Exit(1)
	}
	fmt.Println("search index rebuilt")
}

// settingsLists reads the comma-separated UPDATEDB_LISTS environment
// variable naming which lists' emails to reindex.
func settingsLists() ([]string, error) {
	raw := os.Getenv("UPDATEDB_LISTS")
	if raw == "" {
		return nil, nil
	}
	var lists []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			lists = append(lists, name)
		}
	}
	return lists, nil
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
