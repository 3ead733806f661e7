package main

import (
	"github.com/algotwist369/bookby247/libs/db"
	"github.com/algotwist369/bookby247/services/booking-service/internal/storage"
)

func storageFor(pool *db.Pool) source {
	return storage.NewPostgresStore(pool)
}
