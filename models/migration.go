package models

import (
	"log"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Company{}, &User{},
		&Movement{}, &Exception{},
		&DataRefreshExecution{},
		&SupervisionLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
