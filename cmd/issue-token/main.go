package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func main() {
	var (
		proctorID   int
		permissions string
		nisn        string
		reset       bool
	)
	flag.IntVar(&proctorID, "proctor", 0, "Issue a proctor token for this proctor ID")
	flag.StringVar(&permissions, "permissions",
		strings.Join([]string{service.PermissionMonitor, service.PermissionReview, service.PermissionPublish}, ","),
		"Comma-separated proctor permissions")
	flag.StringVar(&nisn, "student", "", "Issue a student token for this NISN")
	flag.BoolVar(&reset, "reset", false, "Invalidate the student's current token first")
	flag.Parse()

	if (proctorID == 0) == (nisn == "") {
		fmt.Println("Usage: issue-token -proctor <id> [-permissions a,b] | -student <nisn> [-reset]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	authService := service.NewAuthService(cfg, rdb)

	if proctorID != 0 {
		token, err := authService.GenerateProctorToken(proctorID, strings.Split(permissions, ","))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue proctor token")
		}
		fmt.Println(token)
		return
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	student, err := repository.NewStudentRepository(pool).GetByNISN(ctx, nisn)
	if err != nil {
		log.Fatal().Err(err).Str("nisn", nisn).Msg("Student not found")
	}

	if reset {
		if err := authService.ResetStudentSession(ctx, student.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to reset student session")
		}
	}

	token, err := authService.GenerateStudentToken(ctx, student.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			fmt.Println("Error: student already holds a token, rerun with -reset")
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Failed to issue student token")
	}
	fmt.Println(token)
}
