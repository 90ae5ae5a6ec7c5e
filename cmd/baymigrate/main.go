// Command baymigrate applies or inspects Bay's database schema migrations.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shipyard/bay/internal/config"
	"github.com/shipyard/bay/internal/migrate"
)

func main() {
	var cmd string
	flag.StringVar(&cmd, "cmd", "up", "migration command: up, down, status")
	flag.Parse()

	cfg := config.Load()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		fail(err)
	}
	defer db.Close()

	runner, err := migrate.New(db)
	if err != nil {
		fail(err)
	}

	switch cmd {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "status":
		err = runner.Status()
	default:
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want up, down, or status)\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
