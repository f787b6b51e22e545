// seed-admin creates or updates the console admin user used to trigger data
// refreshes. Safe to rerun; an existing user (matched by email) gets its
// password and role reset.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/seed-admin -email admin@example.com -password '...'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/treasury_backend/config"
	"bitbucket.org/mmdatafocus/treasury_backend/models"
	"bitbucket.org/mmdatafocus/treasury_backend/utils"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

func main() {
	email := flag.String("email", "admin@local", "Admin login email")
	name := flag.String("name", "Treasury Admin", "Display name")
	password := flag.String("password", "", "Login password (required)")
	issueToken := flag.Bool("token", false, "Print a bearer token for the seeded user (needs TOKEN_HOUR_LIFESPAN)")
	deactivate := flag.Bool("deactivate", false, "Seed or reset the account as disabled (login rejected until reactivated)")
	flag.Parse()

	if strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "missing required -password flag")
		os.Exit(2)
	}
	if !utils.IsValidEmail(strings.TrimSpace(*email)) {
		fmt.Fprintf(os.Stderr, "invalid email: %q\n", *email)
		os.Exit(2)
	}

	isActive := utils.NewTrue()
	if *deactivate {
		isActive = utils.NewFalse()
	}
	user := models.User{
		DisplayName: strings.TrimSpace(*name),
		Email:       strings.TrimSpace(*email),
		Role:        models.RoleAdmin,
		IsActive:    isActive,
	}

	// Same rules the API applies through gin's binding tags.
	validate := validator.New()
	validate.SetTagName("binding")
	if err := validate.Struct(&user); err != nil {
		for field, tag := range utils.ProcessValidationErrors(err) {
			fmt.Fprintf(os.Stderr, "invalid %s: failed %q\n", field, tag)
		}
		os.Exit(2)
	}

	hashed, err := utils.HashPassword(*password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	user.Password = string(hashed)

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	var existing models.User
	err = db.WithContext(ctx).Where("email = ?", user.Email).Take(&existing).Error
	switch {
	case err == nil:
		if err := db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"display_name": user.DisplayName,
			"password":     user.Password,
			"role":         models.RoleAdmin,
			"is_active":    *isActive,
		}).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
			os.Exit(1)
		}
		user.ID = existing.ID
		fmt.Printf("Updated admin user %q (id=%d)\n", user.Email, user.ID)
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user %q (id=%d)\n", user.Email, user.ID)
	default:
		fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
		os.Exit(1)
	}

	if *issueToken {
		token, err := utils.JwtGenerate(user.ID, user.DisplayName, user.Role)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token (set TOKEN_HOUR_LIFESPAN): %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
	}
}
