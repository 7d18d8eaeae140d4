package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// seedSubject is one section of the demo exam.
type seedSubject struct {
	name      string
	phase     string
	budget    int
	questions int
}

func main() {
	var (
		students  int
		publish   bool
		entryCode string
	)
	flag.IntVar(&students, "students", 50, "Number of students to seed")
	flag.BoolVar(&publish, "publish", true, "Publish the exam and warm its cache")
	flag.StringVar(&entryCode, "token", "STEMSI", "Entry token of the seeded exam")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

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

	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)

	fmt.Printf("=== Seeding %d Students ===\n", students)
	seeded := 0
	for i := 0; i < students; i++ {
		nisn := fmt.Sprintf("user%d", i+1)
		if _, err := studentRepo.Upsert(ctx, nisn, fmt.Sprintf("Peserta %02d", i+1)); err != nil {
			fmt.Printf("Error creating student %s: %v\n", nisn, err)
			continue
		}
		seeded++
		if seeded%10 == 0 {
			fmt.Printf("Created %d students...\n", seeded)
		}
	}

	fmt.Println("=== Seeding Exam ===")
	exam := &model.Exam{
		Title:           "Tryout UTBK",
		DurationMinutes: 90,
		EntryToken:      entryCode,
		Status:          model.ExamStatusDraft,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	// Penalaran Umum and Pengetahuan Kuantitatif share the TPS budget.
	subjects := []seedSubject{
		{name: "Penalaran Umum", phase: "TPS", budget: 30 * 60, questions: 10},
		{name: "Pengetahuan Kuantitatif", phase: "TPS", questions: 10},
		{name: "Literasi Bahasa Indonesia", budget: 20 * 60, questions: 10},
		{name: "Penalaran Matematika", budget: 40 * 60, questions: 10},
	}
	options := []string{"A", "B", "C", "D", "E"}

	for pos, s := range subjects {
		err := examRepo.CreateSubject(ctx, exam.ID, model.Subject{
			Name:          s.name,
			Position:      pos + 1,
			Phase:         s.phase,
			BudgetSeconds: s.budget,
		})
		if err != nil {
			log.Fatal().Err(err).Str("subject", s.name).Msg("Failed to create subject")
		}
		for n := 0; n < s.questions; n++ {
			q := &model.Question{
				ExamID:        exam.ID,
				Subject:       s.name,
				QuestionText:  fmt.Sprintf("%s: soal nomor %d", s.name, n+1),
				Options:       options,
				CorrectOption: options[n%len(options)],
				OrderNum:      n + 1,
			}
			if err := questionRepo.Create(ctx, q); err != nil {
				log.Fatal().Err(err).Str("subject", s.name).Msg("Failed to create question")
			}
		}
	}

	if publish {
		if err := examService.Publish(ctx, exam.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish exam")
		}
	}

	fmt.Printf("\nSeed completed! %d/%d students, exam %s (token %s, published=%t)\n",
		seeded, students, exam.ID, entryCode, publish)
}
