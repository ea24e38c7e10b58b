package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin/binding"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func main() {
	var file string
	var codes int
	flag.StringVar(&file, "file", "", "Path to an exam JSON file (title, description, time_limit_minutes, questions)")
	flag.IntVar(&codes, "codes", 30, "Number of access codes to issue")
	flag.Parse()

	cfg := config.Load()
	log := logger.SetupCLI(cfg.LogLevel)
	validator.Setup()

	if file == "" {
		log.Fatal().Msg("-file is required")
	}

	req, err := readExam(file)
	if err != nil {
		log.Fatal().Err(err).Str("file", file).Msg("Invalid exam file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// ─── Connect ───────────────────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Services ───────────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	examService := service.NewExamService(repository.NewExamRepository(pool), rdb, log)
	gateway := service.NewPersistenceGateway(sessionRepo, rdb, log)
	adminService := service.NewSessionAdminService(sessionRepo, examService, gateway, nil, log)

	// ─── Seed ──────────────────────────────────────────────────────────
	exam := req.ToDefinition()
	if err := examService.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	log.Info().
		Str("exam_id", exam.ID.String()).
		Str("title", exam.Title).
		Int("questions", exam.QuestionCount()).
		Msg("Exam created")

	issued, err := adminService.IssueSessions(ctx, exam.ID, codes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue access codes")
	}

	w := csv.NewWriter(os.Stdout)
	w.Write([]string{"session_id", "access_code"})
	for _, s := range issued {
		w.Write([]string{s.ID.String(), s.AccessCode})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatal().Err(err).Msg("Failed to write access codes")
	}

	log.Info().Int("codes", len(issued)).Msg("Seeding complete")
}

func readExam(path string) (*model.CreateExamRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req model.CreateExamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("validate: %v", validator.TranslateErrors(err))
	}
	return &req, nil
}
