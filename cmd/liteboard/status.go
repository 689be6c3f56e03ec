package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liteboard/liteboard/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	Long: `Display the current state of the sync database.

Shows:
  - Database file location and size
  - Number of spaces, clients, and entries
  - Per-space version counters`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := viper.GetString("db.path")

		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			fmt.Printf("Database not initialized at %s\n", dbPath)
			fmt.Printf("Run 'liteboard serve' or 'liteboard seed' to create it\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stat database: %w", err)
		}

		db, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		conn := db.RawDB()

		var spaces, clients, entries, tombstones int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM space`).Scan(&spaces); err != nil {
			return fmt.Errorf("failed to count spaces: %w", err)
		}
		if err := conn.QueryRow(`SELECT COUNT(*) FROM client`).Scan(&clients); err != nil {
			return fmt.Errorf("failed to count clients: %w", err)
		}
		if err := conn.QueryRow(`SELECT COUNT(*) FROM entry WHERE deleted = 0`).Scan(&entries); err != nil {
			return fmt.Errorf("failed to count entries: %w", err)
		}
		if err := conn.QueryRow(`SELECT COUNT(*) FROM entry WHERE deleted = 1`).Scan(&tombstones); err != nil {
			return fmt.Errorf("failed to count tombstones: %w", err)
		}

		fmt.Printf("Database: %s (%d bytes)\n", dbPath, info.Size())
		fmt.Printf("  Spaces:     %d\n", spaces)
		fmt.Printf("  Clients:    %d\n", clients)
		fmt.Printf("  Entries:    %d live, %d tombstoned\n", entries, tombstones)

		rows, err := conn.Query(`SELECT id, version, lastmodified FROM space ORDER BY id`)
		if err != nil {
			return fmt.Errorf("failed to list spaces: %w", err)
		}
		defer rows.Close()

		fmt.Println("\nSpaces:")
		for rows.Next() {
			var id, lastModified string
			var version int64
			if err := rows.Scan(&id, &version, &lastModified); err != nil {
				return fmt.Errorf("failed to scan space: %w", err)
			}
			fmt.Printf("  %-24s version=%-6d modified=%s\n", id, version, lastModified)
		}
		return rows.Err()
	},
}
