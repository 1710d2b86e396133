package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"civic-dispatch-backend/internal/database"
	"civic-dispatch-backend/internal/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	seed := flag.Bool("seed", false, "insert demo departments, units and accounts after migrating")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}
	logger.Setup(os.Getenv("APP_ENV"))

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Migration completed successfully!")

	if !*seed {
		return
	}

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "password123"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := database.NewPostgresStore(db)
	if err := database.Seed(ctx, store, password); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	units, err := store.FieldUnits(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query summary")
	}

	fmt.Println("\n============================================================")
	fmt.Println("SEED SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Field units:             %d\n", len(units))
	for _, u := range units {
		fmt.Printf("  %-22s %s\n", u.Name, u.Department)
	}
	fmt.Println("============================================================")
}
