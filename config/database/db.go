package database

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"codesync/pkg/logger"
)

// Connect opens the Postgres connection and verifies it with a short retry
// loop to ride out DNS or network blips at startup.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	for i := 0; i < 5; i++ {
		if err = db.Ping(); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in 2s... (%v)", err)
		time.Sleep(2 * time.Second)
	}
	db.Close()
	return nil, err
}
