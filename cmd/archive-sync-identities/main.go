// The archive-sync-identities command runs the batch sender-to-user
// enricher against every sender missing a resolved user id, per
// spec.md §6:
//
//	archive-sync-identities --settings MODULE
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"listarchive/config"
	"listarchive/identity"
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
	if settings.IdentityServer == "" {
		fmt.Fprintf(os.Stderr, "%s: IDENTITY_SERVER/USER/PASS not configured, nothing to sync\n", os.Args[0])
		os.Exit(1)
	}

	ctx := context.Background()

	client := identity.New(settings.IdentityServer, settings.IdentityUser, settings.IdentityPass)
	client.Logf = func(format string, v ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", v...) }

	if settings.StoreDriver() == "sqlite" {
		s, err := sqlitestore.Open(settings.StorePath(), 4)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		defer s.Close()
		if err := identity.SyncAllSenders(ctx, client, s, client.Logf); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
	} else {
		s, err := pgstore.Open(ctx, settings.StoreURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
		defer s.Close()
		if err := identity.SyncAllSenders(ctx, client, s, client.Logf); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
			os.Exit(1)
		}
	}

	fmt.Println("identity sync complete")
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
